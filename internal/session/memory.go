package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. It
// honors the same atomicity contract as the Postgres store: Start holds the
// lock across the check and the insert.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session

	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), nowFunc: time.Now}
}

// SetNow overrides the store clock. Test hook.
func (s *MemoryStore) SetNow(fn func() time.Time) { s.nowFunc = fn }

// Start opens a session unless the class already has an active unexpired one.
func (s *MemoryStore) Start(ctx context.Context, classID string, centerLat, centerLon, radiusMeters float64, duration time.Duration) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	for _, sess := range s.sessions {
		if sess.ClassID == classID && !sess.Expired(now) {
			return Session{}, ErrActiveSessionExists
		}
	}

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
	s.sessions[sess.ID] = sess
	return sess, nil
}

// Active returns the open session for the class, or nil.
func (s *MemoryStore) Active(ctx context.Context, classID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	var best *Session
	for _, sess := range s.sessions {
		if sess.ClassID != classID || sess.Expired(now) {
			continue
		}
		if best == nil || sess.StartTime.After(best.StartTime) {
			copied := sess
			best = &copied
		}
	}
	return best, nil
}

// ByID resolves a session by id.
func (s *MemoryStore) ByID(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// ByToken resolves a session by token.
func (s *MemoryStore) ByToken(ctx context.Context, token string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Token == token {
			return sess, nil
		}
	}
	return Session{}, ErrNotFound
}

// End deactivates a session; a second End is a no-op.
func (s *MemoryStore) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.IsActive = false
		s.sessions[id] = sess
	}
	return nil
}

// List returns the class sessions newest first.
func (s *MemoryStore) List(ctx context.Context, classID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Session
	for _, sess := range s.sessions {
		if sess.ClassID == classID {
			res = append(res, sess)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartTime.After(res[j].StartTime) })
	return res, nil
}

// EnsureForDate finds or creates the day's session.
func (s *MemoryStore) EnsureForDate(ctx context.Context, classID string, day time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayStart, dayEnd := dayBounds(day)
	var found *Session
	for _, sess := range s.sessions {
		if sess.ClassID != classID {
			continue
		}
		if sess.StartTime.Before(dayStart) || !sess.StartTime.Before(dayEnd) {
			continue
		}
		if found == nil || sess.StartTime.Before(found.StartTime) {
			copied := sess
			found = &copied
		}
	}
	if found != nil {
		return *found, nil
	}

	sess := Session{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Token:     newToken(),
		StartTime: dayStart,
		EndTime:   dayStart.Add(time.Minute),
		IsActive:  false,
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}
