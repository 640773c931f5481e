// Package attendance implements the submission validation pipeline and the
// persistence of accepted attendance records.
package attendance

import (
	"context"
	"errors"
	"time"
)

// Student is an immutable roster entry, created by seed or import and never
// mutated by the attendance flow. EnrollmentNo is stored uppercase.
type Student struct {
	ID           string `json:"id"`
	EnrollmentNo string `json:"enrollment_no"`
	Name         string `json:"name"`
	Batch        string `json:"batch"`
}

// Class is the configured classroom with its default geofence. Sessions
// snapshot these values at start time.
type Class struct {
	ID           string  `json:"id"`
	ClassName    string  `json:"class_name"`
	CenterLat    float64 `json:"center_lat"`
	CenterLon    float64 `json:"center_lon"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Record is one accepted attendance submission. Latitude and longitude are
// nil for controller manual edits.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	MarkedAt  time.Time `json:"marked_at"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

// DeviceLock pins a client fingerprint to one student within a session. It
// is a soft deterrent against one device claiming several enrollment
// numbers; it is client-attested and trivially spoofed, so it never gates
// anything on its own.
type DeviceLock struct {
	SessionID   string `json:"session_id"`
	StudentID   string `json:"student_id"`
	Fingerprint string `json:"fingerprint"`
}

// PresentEntry is a record joined with the student it belongs to, for the
// live present list and reports.
type PresentEntry struct {
	EnrollmentNo string    `json:"enrollment_no"`
	Name         string    `json:"name"`
	MarkedAt     time.Time `json:"marked_at"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
}

// Uniqueness-violation sentinels surfaced by RecordStore implementations.
// The Postgres store derives them from constraint names on SQLSTATE 23505;
// the memory store enforces the same contract under its lock.
var (
	ErrDuplicateRecord    = errors.New("attendance record already exists for this session and student")
	ErrFingerprintTaken   = errors.New("fingerprint already used by another student in this session")
	ErrStudentDeviceBound = errors.New("student already bound to a different fingerprint in this session")
)

// ErrEditWindowClosed rejects manual edits on days too old to touch.
var ErrEditWindowClosed = errors.New("record is too old to be edited")

// RecordStore persists accepted records and device locks. Insert must be
// atomic: the record and its lock commit together or not at all, and a lost
// race against a concurrent identical submission surfaces as one of the
// duplicate sentinels, never as a generic error.
type RecordStore interface {
	Insert(ctx context.Context, rec Record, lock *DeviceLock) (Record, error)
	FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*Record, error)
	LockByFingerprint(ctx context.Context, sessionID, fingerprint string) (*DeviceLock, error)
	LockByStudent(ctx context.Context, sessionID, studentID string) (*DeviceLock, error)
	ListBySession(ctx context.Context, sessionID string) ([]PresentEntry, error)
	PresentStudentIDs(ctx context.Context, classID string, day time.Time) (map[string]bool, error)
	AttendanceDays(ctx context.Context, classID string) ([]time.Time, error)
	DeleteByDateStudent(ctx context.Context, classID string, day time.Time, studentID string) error
	DeleteAllForDate(ctx context.Context, classID string, day time.Time) (int64, error)
}

// Roster provides read access to students plus the import upsert.
type Roster interface {
	StudentByEnrollment(ctx context.Context, enrollmentNo string) (*Student, error)
	Students(ctx context.Context) ([]Student, error)
	UpsertStudent(ctx context.Context, st Student) error
}
