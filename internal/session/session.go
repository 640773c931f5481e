// Package session owns the attendance session lifecycle: a session is a
// time-boxed window anchored to a geofence during which students may submit
// attendance. Expiry is lazy: validity is derived from end_time at query
// time, never from a background sweep.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Session is one attendance window. The geofence center and radius are
// snapshotted at start time so later class edits do not retroactively move
// the fence under an open session.
type Session struct {
	ID           string    `json:"id"`
	ClassID      string    `json:"class_id"`
	Token        string    `json:"token"`
	CenterLat    float64   `json:"center_lat"`
	CenterLon    float64   `json:"center_lon"`
	RadiusMeters float64   `json:"radius_meters"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	IsActive     bool      `json:"is_active"`
}

// Expired reports whether the session can no longer accept submissions,
// either because it was ended explicitly or because its window has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.IsActive || !s.EndTime.After(now)
}

// RemainingSeconds is the time left in the window, clamped at zero.
func (s Session) RemainingSeconds(now time.Time) int {
	if s.Expired(now) {
		return 0
	}
	return int(s.EndTime.Sub(now).Seconds())
}

var (
	// ErrActiveSessionExists signals an attempt to start a second
	// concurrent session for the same class.
	ErrActiveSessionExists = errors.New("an active session already exists for this class")

	// ErrNotFound signals a lookup for a session that does not exist.
	ErrNotFound = errors.New("session not found")
)

// Store is the session lifecycle contract. Implementations must make Start
// atomic with respect to the one-active-session-per-class invariant: two
// concurrent starts may not both succeed.
type Store interface {
	// Start opens a new session with a fresh opaque token. Fails with
	// ErrActiveSessionExists when an active, unexpired session is open
	// for the class.
	Start(ctx context.Context, classID string, centerLat, centerLon, radiusMeters float64, duration time.Duration) (Session, error)

	// Active returns the session with is_active and end_time in the
	// future, or nil when the class has none. An expired-but-not-ended
	// session counts as inactive.
	Active(ctx context.Context, classID string) (*Session, error)

	// ByID and ByToken resolve a session regardless of its state.
	ByID(ctx context.Context, id string) (Session, error)
	ByToken(ctx context.Context, token string) (Session, error)

	// End sets is_active to false immediately. Ending an already-ended
	// session is a no-op.
	End(ctx context.Context, id string) error

	// List returns all sessions for a class, newest first.
	List(ctx context.Context, classID string) ([]Session, error)

	// EnsureForDate returns a session whose window starts on the given
	// UTC day, creating an inactive placeholder when none exists. Manual
	// presence edits for days without a real session hang off it.
	// Check-and-create must be atomic: concurrent calls for the same day
	// converge on a single session.
	EnsureForDate(ctx context.Context, classID string, day time.Time) (Session, error)
}

// newToken generates the opaque session token: 16 random bytes, hex encoded.
func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// dayBounds returns the UTC [start, end) range of the day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
