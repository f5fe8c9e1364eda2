package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitConfig bounds how hard a single API client may drive the warehouse.
// Zero disables the corresponding check.
type LimitConfig struct {
	RequestsPerMinute  int
	RefreshesPerMinute int
	ParallelRequests   int
}

func FromConfig(cfg config.RateLimitConfig) LimitConfig {
	return LimitConfig{
		RequestsPerMinute:  cfg.RequestsPerMinute,
		RefreshesPerMinute: cfg.RefreshesPerMinute,
		ParallelRequests:   cfg.ParallelRequests,
	}
}

type RateLimiter struct {
	client *redis.Client
	cfg    LimitConfig
	now    func() time.Time
}

// NewRateLimiter returns a limiter backed by client. A nil client or a nil
// limiter allows everything.
func NewRateLimiter(client *redis.Client, cfg LimitConfig) *RateLimiter {
	return &RateLimiter{client: client, cfg: cfg, now: time.Now}
}

// Allow counts one API request for key against the per-minute budget.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.cfg.RequestsPerMinute <= 0 {
		return nil
	}
	return l.countCheck(ctx, fmt.Sprintf("qm:rpm:%s", key), time.Minute, l.cfg.RequestsPerMinute)
}

// AllowRefresh counts one manual cache refresh for key.
func (l *RateLimiter) AllowRefresh(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.cfg.RefreshesPerMinute <= 0 {
		return nil
	}
	return l.countCheck(ctx, fmt.Sprintf("qm:refresh:%s", key), time.Minute, l.cfg.RefreshesPerMinute)
}

// Acquire takes one in-flight dashboard slot for key. Callers that get nil
// must call Release.
func (l *RateLimiter) Acquire(ctx context.Context, key string) error {
	if l == nil || l.client == nil || l.cfg.ParallelRequests <= 0 {
		return nil
	}
	return l.semaphoreAcquire(ctx, fmt.Sprintf("qm:sem:%s", key), l.cfg.ParallelRequests)
}

func (l *RateLimiter) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil || l.cfg.ParallelRequests <= 0 {
		return
	}
	l.client.Decr(ctx, fmt.Sprintf("qm:sem:%s", key))
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, window time.Duration, limit int) error {
	slot := l.now().UTC().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("%s:%d", key, slot)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	// Bounded so a crashed holder cannot pin the slot forever.
	ttl := 5 * time.Minute
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, ttl)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
