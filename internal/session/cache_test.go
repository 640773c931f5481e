package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// stubStore records Active calls and serves a canned session.
type stubStore struct {
	active      *Session
	activeCalls int
}

func (s *stubStore) Start(ctx context.Context, classID string, lat, lon, radius float64, d time.Duration) (Session, error) {
	return Session{}, errors.New("not implemented")
}

func (s *stubStore) Active(ctx context.Context, classID string) (*Session, error) {
	s.activeCalls++
	return s.active, nil
}

func (s *stubStore) ByID(ctx context.Context, id string) (Session, error) {
	return Session{}, ErrNotFound
}

func (s *stubStore) ByToken(ctx context.Context, token string) (Session, error) {
	return Session{}, ErrNotFound
}

func (s *stubStore) End(ctx context.Context, id string) error { return nil }

func (s *stubStore) List(ctx context.Context, classID string) ([]Session, error) { return nil, nil }

func (s *stubStore) EnsureForDate(ctx context.Context, classID string, day time.Time) (Session, error) {
	return Session{}, errors.New("not implemented")
}

func testSession(now time.Time) Session {
	return Session{
		ID:        "sess-1",
		ClassID:   "class-1",
		Token:     "aabbccdd",
		StartTime: now,
		EndTime:   now.Add(30 * time.Minute),
		IsActive:  true,
	}
}

func TestCacheNilClientDelegates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := testSession(now)
	store := &stubStore{active: &sess}

	cache := NewCache(nil, store)
	cache.SetNow(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		got, err := cache.Active(ctx, "class-1")
		if err != nil || got == nil || got.ID != sess.ID {
			t.Fatalf("Active #%d = %+v, %v", i+1, got, err)
		}
	}
	// Without a client every read goes to the store.
	if store.activeCalls != 2 {
		t.Errorf("store calls = %d, want 2", store.activeCalls)
	}

	// Invalidate without a client is a no-op, not a panic.
	cache.Invalidate(ctx, "class-1")
}

func TestCacheUnreachableRedisDegradesToStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := testSession(now)
	store := &stubStore{active: &sess}

	// Port 1 refuses immediately; every cache operation fails and the
	// read falls through to the store.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := NewCache(client, store)
	cache.SetNow(func() time.Time { return now })

	got, err := cache.Active(ctx, "class-1")
	if err != nil || got == nil || got.ID != sess.ID {
		t.Fatalf("Active = %+v, %v", got, err)
	}
	if store.activeCalls != 1 {
		t.Errorf("store calls = %d, want 1", store.activeCalls)
	}
	cache.Invalidate(ctx, "class-1")
}

func TestDecodeFresh(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fresh := testSession(now)
	expired := fresh
	expired.EndTime = now.Add(-time.Minute)
	ended := fresh
	ended.IsActive = false

	marshal := func(s Session) []byte {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "fresh entry", data: marshal(fresh), want: true},
		{name: "past end_time", data: marshal(expired), want: false},
		{name: "ended after caching", data: marshal(ended), want: false},
		{name: "garbage", data: []byte("{nope"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, ok := decodeFresh(tt.data, now)
			if ok != tt.want {
				t.Fatalf("decodeFresh ok = %v, want %v", ok, tt.want)
			}
			if ok && sess.ID != fresh.ID {
				t.Errorf("session = %+v", sess)
			}
		})
	}
}

func TestCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := testSession(now)

	if got := cacheTTL(sess, now); got != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", got)
	}
	if got := cacheTTL(sess, now.Add(31*time.Minute)); got != 0 {
		t.Errorf("ttl past end_time = %v, want 0", got)
	}
	sess.IsActive = false
	if got := cacheTTL(sess, now); got != 0 {
		t.Errorf("ttl for ended session = %v, want 0", got)
	}
}
