package limits

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

func newTestLimiter(t *testing.T, cfg LimitConfig) (*RateLimiter, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	limiter := NewRateLimiter(client, cfg)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return limiter, cleanup
}

func TestRateLimiterAcquireEnforcesParallel(t *testing.T) {
	limiter, cleanup := newTestLimiter(t, LimitConfig{ParallelRequests: 1})
	defer cleanup()

	ctx := context.Background()
	key := "10.0.0.1"

	if err := limiter.Acquire(ctx, key); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Acquire(ctx, key); err != ErrLimitExceeded {
		t.Fatalf("expected parallel limit error, got %v", err)
	}
	limiter.Release(ctx, key)
	if err := limiter.Acquire(ctx, key); err != nil {
		t.Fatalf("request after release should pass: %v", err)
	}
}

func TestRateLimiterAllowEnforcesRPM(t *testing.T) {
	limiter, cleanup := newTestLimiter(t, LimitConfig{RequestsPerMinute: 2})
	defer cleanup()

	ctx := context.Background()
	key := "10.0.0.2"

	if err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, key); err != nil {
		t.Fatalf("second request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, key); err != ErrLimitExceeded {
		t.Fatalf("expected rpm limit error, got %v", err)
	}
	if err := limiter.Allow(ctx, "10.0.0.3"); err != nil {
		t.Fatalf("other clients keep their own budget: %v", err)
	}
}

func TestRateLimiterWindowRollsOver(t *testing.T) {
	limiter, cleanup := newTestLimiter(t, LimitConfig{RefreshesPerMinute: 1})
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if err := limiter.AllowRefresh(ctx, "ops"); err != nil {
		t.Fatalf("first refresh should pass: %v", err)
	}
	if err := limiter.AllowRefresh(ctx, "ops"); err != ErrLimitExceeded {
		t.Fatalf("expected refresh limit error, got %v", err)
	}

	redisKey := fmt.Sprintf("qm:refresh:ops:%d", now.Unix()/60)
	used, err := limiter.client.Get(ctx, redisKey).Int()
	if err != nil {
		t.Fatalf("get redis value: %v", err)
	}
	if used != 2 {
		t.Fatalf("expected counter 2, got %d", used)
	}

	now = now.Add(time.Minute)
	if err := limiter.AllowRefresh(ctx, "ops"); err != nil {
		t.Fatalf("refresh in next window should pass: %v", err)
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var limiter *RateLimiter
	ctx := context.Background()
	if err := limiter.Allow(ctx, "x"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	if err := limiter.Acquire(ctx, "x"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	limiter.Release(ctx, "x")

	unbacked := NewRateLimiter(nil, LimitConfig{RequestsPerMinute: 1})
	for i := 0; i < 3; i++ {
		if err := unbacked.Allow(ctx, "x"); err != nil {
			t.Fatalf("limiter without redis: %v", err)
		}
	}
}

func TestFromConfig(t *testing.T) {
	got := FromConfig(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, RefreshesPerMinute: 3, ParallelRequests: 2})
	want := LimitConfig{RequestsPerMinute: 60, RefreshesPerMinute: 3, ParallelRequests: 2}
	if got != want {
		t.Fatalf("FromConfig = %+v, want %+v", got, want)
	}
}
