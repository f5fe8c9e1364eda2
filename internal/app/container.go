package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/snowflake_query_monitor/internal/cache"
	"github.com/ncecere/snowflake_query_monitor/internal/config"
	"github.com/ncecere/snowflake_query_monitor/internal/dashboard"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/health"
	"github.com/ncecere/snowflake_query_monitor/internal/limits"
	"github.com/ncecere/snowflake_query_monitor/internal/observability"
	"github.com/ncecere/snowflake_query_monitor/internal/redisclient"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DB            *sqlx.DB
	Redis         *redis.Client
	Warehouse     *warehouse.Client
	Results       cache.ResultCache
	Executor      *cache.Executor
	Dashboard     *dashboard.Service
	RateLimiter   *limits.RateLimiter
	Limits        limits.LimitConfig
	Observability *observability.Provider
	HealthMon     *health.Monitor
	Logger        *slog.Logger
	closers       []func()
}

// NewContainer builds a dependency container from the provided primitives.
// redisClient may be nil when neither the redis cache nor rate limits are on.
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if db == nil {
		return nil, fmt.Errorf("warehouse connection is required")
	}
	needsRedis := cfg.Cache.Backend == "redis" || cfg.RateLimits.Enabled
	if needsRedis && redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	logger := slog.Default()

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	client := warehouse.NewClient(db, warehouse.Options{
		QueryTimeout:        cfg.Snowflake.QueryTimeout,
		MaxQueriesPerSecond: cfg.Snowflake.MaxQueriesPerSecond,
		Observability:       obsProvider,
		Logger:              logger,
	})

	container := &Container{
		Config:        cfg,
		DB:            db,
		Redis:         redisClient,
		Warehouse:     client,
		Observability: obsProvider,
		Logger:        logger,
	}

	switch cfg.Cache.Backend {
	case "redis":
		container.Results = cache.NewRedisResultCache(redisClient)
	default:
		mem := cache.NewMemoryResultCache(cfg.Cache.Capacity)
		container.Results = mem
		container.closers = append(container.closers, mem.Close)
	}
	container.Executor = cache.NewExecutor(client, container.Results, cfg.Cache.TTL, obsProvider)

	preset, err := filter.ParsePreset(cfg.Dashboard.DefaultPreset)
	if err != nil {
		return nil, fmt.Errorf("dashboard default preset: %w", err)
	}
	container.Dashboard = dashboard.NewService(dashboard.Options{
		Executor:         container.Executor,
		LiveTTL:          cfg.Cache.LiveTTL,
		Location:         cfg.Location(),
		DefaultWarehouse: cfg.Snowflake.Warehouse,
		DefaultPreset:    preset,
		FallbackMinutes:  cfg.Dashboard.DefaultFallbackMinutes,
		MaxConcurrent:    cfg.Dashboard.MaxConcurrentViews,
		Observability:    obsProvider,
		Logger:           logger,
	})

	container.HealthMon = health.NewMonitor(cfg.Health)
	container.HealthMon.Register("snowflake", client.Ping)
	if redisClient != nil {
		container.HealthMon.Register("redis", func(ctx context.Context) error {
			return redisclient.Ping(ctx, redisClient)
		})
	}

	if cfg.RateLimits.Enabled {
		container.Limits = limits.FromConfig(cfg.RateLimits)
		container.RateLimiter = limits.NewRateLimiter(redisClient, container.Limits)
	}

	return container, nil
}

// AcquireRequestSlot charges one API request to client and, for dashboard
// builds, holds a parallel slot until release is called.
func (c *Container) AcquireRequestSlot(ctx context.Context, client string, parallel bool) (release func(), err error) {
	release = func() {}
	if c == nil || c.RateLimiter == nil {
		return release, nil
	}
	if err := c.RateLimiter.Allow(ctx, client); err != nil {
		return release, err
	}
	if !parallel {
		return release, nil
	}
	if err := c.RateLimiter.Acquire(ctx, client); err != nil {
		return release, err
	}
	return func() {
		c.RateLimiter.Release(context.Background(), client)
	}, nil
}

// AllowRefresh charges one manual cache refresh to client.
func (c *Container) AllowRefresh(ctx context.Context, client string) error {
	if c == nil || c.RateLimiter == nil {
		return nil
	}
	return c.RateLimiter.AllowRefresh(ctx, client)
}

// Close releases in-process resources. The DB and redis handles belong to
// the caller.
func (c *Container) Close() {
	if c == nil {
		return
	}
	for _, fn := range c.closers {
		fn()
	}
}
