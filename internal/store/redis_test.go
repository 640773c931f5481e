package store

import (
	"context"
	"testing"
	"time"
)

func TestRedisHealthy(t *testing.T) {
	var nilWrapper *Redis
	if nilWrapper.Healthy(context.Background()) {
		t.Error("nil wrapper must report unhealthy")
	}
	if (&Redis{}).Healthy(context.Background()) {
		t.Error("wrapper without a client must report unhealthy")
	}

	// A canceled context makes the ping fail without touching the network.
	r := NewRedis("localhost:6379", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.Healthy(ctx) {
		t.Error("ping with canceled context must report unhealthy")
	}
}

func TestNewRedisDefaultsTimeout(t *testing.T) {
	r := NewRedis("localhost:6379", 0)
	if r.Client == nil {
		t.Fatal("client not constructed")
	}
	if got := r.Client.Options().ReadTimeout; got != time.Second {
		t.Errorf("read timeout = %v, want 1s default", got)
	}
	if got := r.Client.Options().DialTimeout; got != 2*time.Second {
		t.Errorf("dial timeout = %v, want 2s", got)
	}
}
