package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/geo"
	"rollcall/internal/metrics"
	"rollcall/internal/session"
)

// MarkRequest is one student submission. Either SessionID or SessionToken
// resolves the session; the token wins when both are set.
type MarkRequest struct {
	SessionID    string
	SessionToken string
	EnrollmentNo string
	Latitude     float64
	Longitude    float64
	Fingerprint  string
}

// Service runs the validation pipeline and the controller edit operations.
type Service struct {
	sessions session.Store
	records  RecordStore
	roster   Roster

	// requireFingerprint enables the device lock stage. Off by default:
	// the fingerprint is client-attested and easily spoofed, so it is a
	// deterrent rather than a security boundary.
	requireFingerprint bool

	// editWindow bounds how far back manual presence edits may reach.
	// Zero disables the bound.
	editWindow time.Duration

	nowFunc func() time.Time
}

// NewService wires the validator to its stores.
func NewService(sessions session.Store, records RecordStore, roster Roster, requireFingerprint bool, editWindow time.Duration) *Service {
	return &Service{
		sessions:           sessions,
		records:            records,
		roster:             roster,
		requireFingerprint: requireFingerprint,
		editWindow:         editWindow,
		nowFunc:            time.Now,
	}
}

// SetNow overrides the service clock. Test hook.
func (s *Service) SetNow(fn func() time.Time) { s.nowFunc = fn }

// Mark validates a submission and records it. A failed stage returns a
// *Rejection; any other error is an infrastructure fault.
//
// Stages run cheapest and most decisive first: session and student lookups,
// then the duplicate pre-check, then the geofence math, then the optional
// device lock. The duplicate check is re-verified by the unique constraint
// at insert time, so two concurrent identical submissions cannot both
// succeed: the loser's constraint violation is translated back to
// AlreadyMarked.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	rec, err := s.mark(ctx, req)
	outcome := "accepted"
	var rej *Rejection
	if errors.As(err, &rej) {
		outcome = string(rej.Code)
	}
	if err == nil || rej != nil {
		metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	}
	return rec, err
}

func (s *Service) mark(ctx context.Context, req MarkRequest) (Record, error) {
	now := s.nowFunc().UTC()

	// 1. Session resolution with lazy expiry.
	var sess session.Session
	var err error
	if req.SessionToken != "" {
		sess, err = s.sessions.ByToken(ctx, req.SessionToken)
	} else {
		sess, err = s.sessions.ByID(ctx, req.SessionID)
	}
	if errors.Is(err, session.ErrNotFound) {
		return Record{}, reject(RejectSessionNotFound, "no such attendance session")
	}
	if err != nil {
		return Record{}, fmt.Errorf("resolve session: %w", err)
	}
	if sess.Expired(now) {
		return Record{}, reject(RejectSessionExpired, "this attendance session has ended")
	}

	// 2. Student resolution, enrollment number normalized uppercase.
	enrollment := strings.ToUpper(strings.TrimSpace(req.EnrollmentNo))
	student, err := s.roster.StudentByEnrollment(ctx, enrollment)
	if err != nil {
		return Record{}, fmt.Errorf("resolve student: %w", err)
	}
	if student == nil {
		return Record{}, reject(RejectStudentNotFound, "enrollment number %s not found", enrollment)
	}

	// 3. Duplicate pre-check. Advisory only; the constraint at insert
	// time is what actually closes the race.
	existing, err := s.records.FindBySessionStudent(ctx, sess.ID, student.ID)
	if err != nil {
		return Record{}, fmt.Errorf("duplicate check: %w", err)
	}
	if existing != nil {
		return Record{}, reject(RejectAlreadyMarked, "attendance already marked for this session")
	}

	// 4. Geofence check, boundary inclusive.
	inside, distance := geo.WithinRadius(req.Latitude, req.Longitude, sess.CenterLat, sess.CenterLon, sess.RadiusMeters)
	if !inside {
		rej := reject(RejectOutOfRange, "you are %.0f m away; attendance requires being within %.0f m", distance, sess.RadiusMeters)
		rej.DistanceMeters = distance
		return Record{}, rej
	}

	// 5. Optional device lock pre-check.
	var lock *DeviceLock
	if s.requireFingerprint && req.Fingerprint != "" {
		byFP, err := s.records.LockByFingerprint(ctx, sess.ID, req.Fingerprint)
		if err != nil {
			return Record{}, fmt.Errorf("fingerprint check: %w", err)
		}
		if byFP != nil && byFP.StudentID != student.ID {
			return Record{}, reject(RejectDeviceAlreadyUsed, "this device already marked attendance for another student")
		}
		byStudent, err := s.records.LockByStudent(ctx, sess.ID, student.ID)
		if err != nil {
			return Record{}, fmt.Errorf("student lock check: %w", err)
		}
		if byStudent != nil && byStudent.Fingerprint != req.Fingerprint {
			return Record{}, reject(RejectStudentDeviceMismatch, "this student is bound to a different device in this session")
		}
		lock = &DeviceLock{SessionID: sess.ID, StudentID: student.ID, Fingerprint: req.Fingerprint}
	}

	// 6. Atomic commit: record plus lock in one transaction. Losing the
	// race to a concurrent submission comes back as a duplicate sentinel.
	lat, lon := req.Latitude, req.Longitude
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: student.ID,
		MarkedAt:  now,
		Latitude:  &lat,
		Longitude: &lon,
	}
	rec, err = s.records.Insert(ctx, rec, lock)
	switch {
	case errors.Is(err, ErrDuplicateRecord):
		return Record{}, reject(RejectAlreadyMarked, "attendance already marked for this session")
	case errors.Is(err, ErrFingerprintTaken):
		return Record{}, reject(RejectDeviceAlreadyUsed, "this device already marked attendance for another student")
	case errors.Is(err, ErrStudentDeviceBound):
		return Record{}, reject(RejectStudentDeviceMismatch, "this student is bound to a different device in this session")
	case err != nil:
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// SetPresence is the controller's manual override for one student on one
// day: marking present inserts a record (reusing or creating the day's
// session), marking absent deletes it. Both directions are idempotent.
func (s *Service) SetPresence(ctx context.Context, classID string, day time.Time, studentID string, present bool) error {
	if err := s.checkEditWindow(day); err != nil {
		return err
	}

	if !present {
		return s.records.DeleteByDateStudent(ctx, classID, day, studentID)
	}

	sess, err := s.sessions.EnsureForDate(ctx, classID, day)
	if err != nil {
		return fmt.Errorf("ensure day session: %w", err)
	}
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		StudentID: studentID,
		MarkedAt:  s.nowFunc().UTC(),
	}
	if _, err := s.records.Insert(ctx, rec, nil); err != nil && !errors.Is(err, ErrDuplicateRecord) {
		return fmt.Errorf("insert manual record: %w", err)
	}
	return nil
}

// DeleteDay removes every record for the class on the given day in one
// transaction. Irreversible.
func (s *Service) DeleteDay(ctx context.Context, classID string, day time.Time) (int64, error) {
	return s.records.DeleteAllForDate(ctx, classID, day)
}

// DayOverview returns the whole roster with a present flag for the day,
// feeding the controller's edit view.
func (s *Service) DayOverview(ctx context.Context, classID string, day time.Time) ([]StudentPresence, error) {
	students, err := s.roster.Students(ctx)
	if err != nil {
		return nil, err
	}
	present, err := s.records.PresentStudentIDs(ctx, classID, day)
	if err != nil {
		return nil, err
	}
	out := make([]StudentPresence, 0, len(students))
	for _, st := range students {
		out = append(out, StudentPresence{Student: st, IsPresent: present[st.ID]})
	}
	return out, nil
}

// StudentPresence pairs a roster entry with its presence on some day.
type StudentPresence struct {
	Student
	IsPresent bool `json:"is_present"`
}

func (s *Service) checkEditWindow(day time.Time) error {
	if s.editWindow <= 0 {
		return nil
	}
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	if dayStart.Before(s.nowFunc().UTC().Add(-s.editWindow)) {
		return ErrEditWindowClosed
	}
	return nil
}
