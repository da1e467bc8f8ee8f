package ratelimiter

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLuaLimiter(t *testing.T, limit int, window time.Duration) (*RedisLuaLimiter, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLuaLimiter(rdb, "serper", limit, window)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return limiter, mr, cleanup
}

func TestAllow_NilLimiter_FailOpen(t *testing.T) {
	var limiter *RedisLuaLimiter

	allowed, retryAfter, err := limiter.Allow(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed to be true for nil limiter")
	}
	if retryAfter != 0 {
		t.Fatalf("expected zero retryAfter, got %v", retryAfter)
	}
}

func TestAllow_UnderLimit(t *testing.T) {
	limiter, _, cleanup := newTestRedisLuaLimiter(t, 3, time.Second)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d should be admitted", i)
		}
	}
}

func TestAllow_OverLimit_Denied(t *testing.T) {
	limiter, _, cleanup := newTestRedisLuaLimiter(t, 2, time.Second)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if allowed, _, _ := limiter.Allow(ctx); !allowed {
			t.Fatalf("call %d should be admitted", i)
		}
	}
	allowed, retryAfter, err := limiter.Allow(ctx)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("third call within the window should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}
}

func TestWait_AdmitsAfterWindow(t *testing.T) {
	limiter, _, cleanup := newTestRedisLuaLimiter(t, 1, 50*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	// Scores are wall-clock milliseconds set by the client, so the second
	// call unblocks once the window elapses in real time.
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 30*time.Millisecond {
		t.Fatalf("second wait returned before the window elapsed: %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("wait took too long: %v", elapsed)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	limiter, _, cleanup := newTestRedisLuaLimiter(t, 1, time.Minute)
	defer cleanup()

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Fatalf("expected context error while window is full")
	}
}

func TestWait_RedisDown_FailOpen(t *testing.T) {
	limiter, mr, cleanup := newTestRedisLuaLimiter(t, 1, time.Second)
	defer cleanup()

	mr.Close()
	// Script errors fail open: the call proceeds instead of blocking.
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
}
