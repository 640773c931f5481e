package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client behind the active-session cache. The cache is a
// best-effort read layer, so timeouts stay short: a slow redis must never
// stall a student poll longer than the direct database path would.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with opTimeout bounding each read and write; dialing
// gets twice that.
func NewRedis(addr string, opTimeout time.Duration) *Redis {
	if opTimeout <= 0 {
		opTimeout = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
	return &Redis{Client: client}
}

// Healthy reports whether redis answers a ping. The server runs without
// redis; this only decides whether the cache is enabled.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
