package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a redis-backed read cache for the student-facing active-session
// poll. It only ever serves reads; the validator and all controller paths go
// straight to the persisted store, which stays the single source of truth.
// Entries are re-validated against the clock on every read, so a cached
// session past its end_time is treated as a miss.
type Cache struct {
	client *redis.Client
	store  Store

	nowFunc func() time.Time
}

// NewCache wraps a store with a redis cache. A nil client disables caching.
func NewCache(client *redis.Client, store Store) *Cache {
	return &Cache{client: client, store: store, nowFunc: time.Now}
}

// SetNow overrides the cache clock. Test hook.
func (c *Cache) SetNow(fn func() time.Time) { c.nowFunc = fn }

func cacheKey(classID string) string {
	return fmt.Sprintf("rollcall:active_session:%s", classID)
}

// Active returns the class's open session, preferring the cache. Cache
// failures degrade to the underlying store; they are never surfaced.
func (c *Cache) Active(ctx context.Context, classID string) (*Session, error) {
	now := c.nowFunc().UTC()
	if c.client != nil {
		if data, err := c.client.Get(ctx, cacheKey(classID)).Bytes(); err == nil {
			if sess, ok := decodeFresh(data, now); ok {
				return sess, nil
			}
		}
	}

	sess, err := c.store.Active(ctx, classID)
	if err != nil || sess == nil {
		return sess, err
	}
	c.put(ctx, *sess, now)
	return sess, nil
}

// decodeFresh unmarshals a cached entry and re-validates it against the
// clock: a stored session past its end_time, or one ended after it was
// cached, counts as a miss. Garbage in the cache is also just a miss.
func decodeFresh(data []byte, now time.Time) (*Session, bool) {
	var sess Session
	if json.Unmarshal(data, &sess) != nil || sess.Expired(now) {
		return nil, false
	}
	return &sess, true
}

// Invalidate drops the cached entry for a class. Called on session end and
// on manual edits that touch session state.
func (c *Cache) Invalidate(ctx context.Context, classID string) {
	if c.client == nil {
		return
	}
	c.client.Del(ctx, cacheKey(classID))
}

// put stores the session keyed by class, expiring with the session itself
// so redis never holds an entry past end_time.
func (c *Cache) put(ctx context.Context, sess Session, now time.Time) {
	if c.client == nil {
		return
	}
	ttl := cacheTTL(sess, now)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(sess.ClassID), data, ttl)
}

// cacheTTL is the remaining life of a cache entry: the time until the
// session's window closes, or zero when it is already unservable.
func cacheTTL(sess Session, now time.Time) time.Duration {
	if sess.Expired(now) {
		return 0
	}
	return sess.EndTime.Sub(now)
}
