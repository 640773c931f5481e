package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const sessionColumns = `id, class_id, session_token, center_lat, center_lon, radius_meters, start_time, end_time, is_active`

// PostgresStore persists sessions in Postgres. The one-active-session-per-
// class invariant is enforced by the attendance_sessions_one_active_per_class
// partial unique index, so check-then-create races collapse into a single
// constraint-backed insert.
type PostgresStore struct {
	db *sql.DB

	// nowFunc is swapped out in tests.
	nowFunc func() time.Time
}

// NewPostgresStore creates a store over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, nowFunc: time.Now}
}

// Start opens a session after lazily retiring any stale active row whose
// window has already passed. Losing the insert race surfaces as
// ErrActiveSessionExists.
func (s *PostgresStore) Start(ctx context.Context, classID string, centerLat, centerLon, radiusMeters float64, duration time.Duration) (Session, error) {
	now := s.nowFunc().UTC()
	sess := Session{
		ID:           uuid.NewString(),
		ClassID:      classID,
		Token:        newToken(),
		CenterLat:    centerLat,
		CenterLon:    centerLon,
		RadiusMeters: radiusMeters,
		StartTime:    now,
		EndTime:      now.Add(duration),
		IsActive:     true,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin start session: %w", err)
	}
	defer tx.Rollback()

	// Expired sessions are treated as inactive everywhere else; retire
	// them here so they cannot block the partial unique index.
	if _, err := tx.ExecContext(ctx, `
		UPDATE attendance_sessions SET is_active = FALSE
		WHERE class_id = $1 AND is_active AND end_time <= $2
	`, classID, now); err != nil {
		return Session{}, fmt.Errorf("retire stale sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sess.ID, sess.ClassID, sess.Token, sess.CenterLat, sess.CenterLon, sess.RadiusMeters,
		sess.StartTime, sess.EndTime, sess.IsActive); err != nil {
		if isUniqueViolation(err, "attendance_sessions_one_active_per_class") {
			return Session{}, ErrActiveSessionExists
		}
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err, "attendance_sessions_one_active_per_class") {
			return Session{}, ErrActiveSessionExists
		}
		return Session{}, fmt.Errorf("commit start session: %w", err)
	}
	return sess, nil
}

// Active returns the open session for the class, applying lazy expiry.
func (s *PostgresStore) Active(ctx context.Context, classID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE class_id = $1 AND is_active AND end_time > $2
		ORDER BY start_time DESC
		LIMIT 1
	`, classID, s.nowFunc().UTC())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ByID resolves a session by primary key.
func (s *PostgresStore) ByID(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ByToken resolves a session by its opaque token.
func (s *PostgresStore) ByToken(ctx context.Context, token string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions WHERE session_token = $1
	`, token)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// End deactivates a session. Idempotent: zero rows updated is not an error.
func (s *PostgresStore) End(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET is_active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// List returns every session for the class, newest first.
func (s *PostgresStore) List(ctx context.Context, classID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE class_id = $1
		ORDER BY start_time DESC
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

// EnsureForDate finds any session starting on the given UTC day, creating an
// inactive one-minute placeholder when none exists. The check and the insert
// run under a per-class advisory lock so two concurrent manual edits on an
// empty day converge on one placeholder instead of creating two.
func (s *PostgresStore) EnsureForDate(ctx context.Context, classID string, day time.Time) (Session, error) {
	dayStart, dayEnd := dayBounds(day)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, fmt.Errorf("begin ensure session: %w", err)
	}
	defer tx.Rollback()

	// Held until commit. Only placeholder creation takes this lock, so
	// it never contends with the submission path.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, classID); err != nil {
		return Session{}, fmt.Errorf("lock class: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE class_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
		LIMIT 1
	`, classID, dayStart, dayEnd)
	sess, err := scanSession(row)
	if err == nil {
		return sess, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	sess = Session{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Token:     newToken(),
		StartTime: dayStart,
		EndTime:   dayStart.Add(time.Minute),
		IsActive:  false,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sess.ID, sess.ClassID, sess.Token, sess.CenterLat, sess.CenterLon, sess.RadiusMeters,
		sess.StartTime, sess.EndTime, sess.IsActive); err != nil {
		return Session{}, fmt.Errorf("insert placeholder session: %w", err)
	}
	return sess, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.ClassID, &sess.Token, &sess.CenterLat, &sess.CenterLon,
		&sess.RadiusMeters, &sess.StartTime, &sess.EndTime, &sess.IsActive)
	return sess, err
}

// isUniqueViolation reports whether err is a Postgres 23505 on the named
// constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
