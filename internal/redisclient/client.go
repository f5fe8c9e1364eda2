package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

const pingTimeout = 3 * time.Second

// New returns a client for the shared cache and rate-limit store, or nil when
// no URL is configured and the monitor runs on in-process state only.
func New(cfg config.RedisConfig) *redis.Client {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	client := redis.NewClient(options(cfg))
	client.AddHook(handshakeFilter{})
	return client
}

// options accepts a redis:// URL or a bare host:port.
func options(cfg config.RedisConfig) *redis.Options {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts
}

// Ping checks the store is reachable. A nil client is always healthy.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// handshakeFilter drops CLIENT MAINT_NOTIFICATIONS so servers without
// maintenance push support still accept the connection setup.
type handshakeFilter struct{}

func isMaintHandshake(cmd redis.Cmder) bool {
	args := cmd.Args()
	if len(args) < 2 || !strings.EqualFold(cmd.FullName(), "client") {
		return false
	}
	sub, ok := args[1].(string)
	return ok && strings.EqualFold(sub, "maint_notifications")
}

func (handshakeFilter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (handshakeFilter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintHandshake(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (handshakeFilter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		kept := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintHandshake(cmd) {
				kept = append(kept, cmd)
			}
		}
		return next(ctx, kept)
	}
}
