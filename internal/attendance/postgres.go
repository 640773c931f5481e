package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Postgres-backed RecordStore and Roster. Uniqueness
// invariants are enforced by the schema; this code only translates the
// resulting 23505s into domain sentinels by constraint name.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo over an open connection pool.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes the record and, when given, its device lock in a single
// transaction.
func (r *Repository) Insert(ctx context.Context, rec Record, lock *DeviceLock) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, marked_at, latitude, longitude)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.MarkedAt, rec.Latitude, rec.Longitude); err != nil {
		return Record{}, translateUnique(err)
	}

	if lock != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_locks (session_id, student_id, fingerprint)
			VALUES ($1,$2,$3)
		`, lock.SessionID, lock.StudentID, lock.Fingerprint); err != nil {
			return Record{}, translateUnique(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, translateUnique(err)
	}
	return rec, nil
}

// FindBySessionStudent returns the student's record for the session, or nil.
func (r *Repository) FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, marked_at, latitude, longitude
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.MarkedAt, &rec.Latitude, &rec.Longitude); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// LockByFingerprint returns the lock holding this fingerprint in the
// session, or nil.
func (r *Repository) LockByFingerprint(ctx context.Context, sessionID, fingerprint string) (*DeviceLock, error) {
	return r.lock(ctx, `SELECT session_id, student_id, fingerprint FROM device_locks WHERE session_id = $1 AND fingerprint = $2`, sessionID, fingerprint)
}

// LockByStudent returns the student's lock in the session, or nil.
func (r *Repository) LockByStudent(ctx context.Context, sessionID, studentID string) (*DeviceLock, error) {
	return r.lock(ctx, `SELECT session_id, student_id, fingerprint FROM device_locks WHERE session_id = $1 AND student_id = $2`, sessionID, studentID)
}

func (r *Repository) lock(ctx context.Context, query string, args ...any) (*DeviceLock, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	var l DeviceLock
	if err := row.Scan(&l.SessionID, &l.StudentID, &l.Fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// ListBySession returns the live present list, oldest mark first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]PresentEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.enrollment_no, s.name, ar.marked_at, ar.latitude, ar.longitude
		FROM attendance_records ar
		JOIN students s ON s.id = ar.student_id
		WHERE ar.session_id = $1
		ORDER BY ar.marked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PresentEntry
	for rows.Next() {
		var e PresentEntry
		if err := rows.Scan(&e.EnrollmentNo, &e.Name, &e.MarkedAt, &e.Latitude, &e.Longitude); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// PresentStudentIDs returns the set of students with a record for the class
// on the given UTC day.
func (r *Repository) PresentStudentIDs(ctx context.Context, classID string, day time.Time) (map[string]bool, error) {
	dayStart, dayEnd := dayBoundsUTC(day)
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ar.student_id
		FROM attendance_records ar
		JOIN attendance_sessions se ON se.id = ar.session_id
		WHERE se.class_id = $1 AND se.start_time >= $2 AND se.start_time < $3
	`, classID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	present := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		present[id] = true
	}
	return present, rows.Err()
}

// AttendanceDays returns the distinct UTC days with sessions for the class,
// oldest first.
func (r *Repository) AttendanceDays(ctx context.Context, classID string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT DATE(start_time AT TIME ZONE 'UTC') AS day
		FROM attendance_sessions
		WHERE class_id = $1
		ORDER BY day
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day.UTC())
	}
	return days, rows.Err()
}

// DeleteByDateStudent removes the student's records for the class day.
func (r *Repository) DeleteByDateStudent(ctx context.Context, classID string, day time.Time, studentID string) error {
	dayStart, dayEnd := dayBoundsUTC(day)
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM attendance_records ar
		USING attendance_sessions se
		WHERE se.id = ar.session_id
		  AND se.class_id = $1 AND se.start_time >= $2 AND se.start_time < $3
		  AND ar.student_id = $4
	`, classID, dayStart, dayEnd, studentID)
	return err
}

// DeleteAllForDate removes every record for the class day in one
// transaction, so the bulk delete is all-or-nothing. Device locks for the
// day's sessions go with it.
func (r *Repository) DeleteAllForDate(ctx context.Context, classID string, day time.Time) (int64, error) {
	dayStart, dayEnd := dayBoundsUTC(day)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin day delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM device_locks dl
		USING attendance_sessions se
		WHERE se.id = dl.session_id
		  AND se.class_id = $1 AND se.start_time >= $2 AND se.start_time < $3
	`, classID, dayStart, dayEnd); err != nil {
		return 0, fmt.Errorf("delete day locks: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM attendance_records ar
		USING attendance_sessions se
		WHERE se.id = ar.session_id
		  AND se.class_id = $1 AND se.start_time >= $2 AND se.start_time < $3
	`, classID, dayStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("delete day records: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, tx.Commit()
}

// StudentByEnrollment looks up a roster entry by its (already normalized)
// enrollment number, or nil.
func (r *Repository) StudentByEnrollment(ctx context.Context, enrollmentNo string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, enrollment_no, name, batch FROM students WHERE enrollment_no = $1
	`, enrollmentNo)
	var st Student
	if err := row.Scan(&st.ID, &st.EnrollmentNo, &st.Name, &st.Batch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// Students returns the whole roster ordered by enrollment number.
func (r *Repository) Students(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, enrollment_no, name, batch FROM students ORDER BY enrollment_no
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.EnrollmentNo, &st.Name, &st.Batch); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// UpsertStudent creates or refreshes a roster entry keyed by enrollment_no.
func (r *Repository) UpsertStudent(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, enrollment_no, name, batch)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (enrollment_no) DO UPDATE SET name = EXCLUDED.name, batch = EXCLUDED.batch
	`, st.ID, st.EnrollmentNo, st.Name, st.Batch)
	return err
}

// ClassByName returns the configured class row.
func (r *Repository) ClassByName(ctx context.Context, name string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, class_name, center_lat, center_lon, radius_meters FROM classes WHERE class_name = $1
	`, name)
	var c Class
	if err := row.Scan(&c.ID, &c.ClassName, &c.CenterLat, &c.CenterLon, &c.RadiusMeters); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func dayBoundsUTC(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// translateUnique maps 23505 violations to domain sentinels by constraint
// name; anything else passes through wrapped.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "attendance_records_session_student":
			return ErrDuplicateRecord
		case "device_locks_session_fingerprint":
			return ErrFingerprintTaken
		case "device_locks_session_student":
			return ErrStudentDeviceBound
		}
	}
	return fmt.Errorf("attendance insert: %w", err)
}
