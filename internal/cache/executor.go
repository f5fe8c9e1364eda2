package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/observability"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

const warehouseListKey = "warehouse-list"

// Executor memoises warehouse results for a short TTL. Identical statements
// with identical bindings issued within the TTL reuse the first result. The
// live SHOW QUERIES path is never cached.
type Executor struct {
	next  warehouse.Executor
	store ResultCache
	ttl   time.Duration
	obs   *observability.Provider
	group singleflight.Group
}

func NewExecutor(next warehouse.Executor, store ResultCache, ttl time.Duration, obs *observability.Provider) *Executor {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Executor{next: next, store: store, ttl: ttl, obs: obs}
}

func (e *Executor) Execute(ctx context.Context, query string, bindings filter.Bindings) (*warehouse.Result, error) {
	return e.ExecuteTTL(ctx, query, bindings, e.ttl)
}

// ExecuteTTL is Execute with an explicit freshness window.
func (e *Executor) ExecuteTTL(ctx context.Context, query string, bindings filter.Bindings, ttl time.Duration) (*warehouse.Result, error) {
	key := Key(query, bindings)
	return e.cached(ctx, key, ttl, func(ctx context.Context) (*warehouse.Result, error) {
		return e.next.Execute(ctx, query, bindings)
	})
}

func (e *Executor) ShowLive(ctx context.Context, wh string) (*warehouse.Result, error) {
	return e.next.ShowLive(ctx, wh)
}

// ListWarehouses caches the warehouse list when the wrapped executor can list.
func (e *Executor) ListWarehouses(ctx context.Context) ([]string, error) {
	lister, ok := e.next.(warehouse.Lister)
	if !ok {
		return nil, warehouse.ErrNotConfigured
	}
	res, err := e.cached(warehouse.WithQueryName(ctx, "list_warehouses"), warehouseListKey, e.ttl, func(ctx context.Context) (*warehouse.Result, error) {
		names, err := lister.ListWarehouses(ctx)
		if err != nil {
			return nil, err
		}
		out := &warehouse.Result{Columns: []warehouse.Column{{Name: "name"}}, Rows: make([][]any, 0, len(names))}
		for _, n := range names {
			out.Rows = append(out.Rows, []any{n})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, res.Len())
	for i := 0; i < res.Len(); i++ {
		names = append(names, res.Row(i).String("name"))
	}
	return names, nil
}

// Refresh drops every cached result so the next request goes to the warehouse.
func (e *Executor) Refresh(ctx context.Context) error {
	e.obs.RecordCachePurge()
	return e.store.Purge(ctx)
}

func (e *Executor) cached(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (*warehouse.Result, error)) (*warehouse.Result, error) {
	name := warehouse.QueryName(ctx)
	gen, err := e.store.Generation(ctx)
	if err != nil {
		slog.Warn("result cache generation", slog.String("query", name), slog.String("error", err.Error()))
		gen = ""
	}
	if gen != "" {
		if res, ok, err := e.store.Get(ctx, key); err != nil {
			slog.Warn("result cache read", slog.String("query", name), slog.String("error", err.Error()))
		} else if ok {
			e.obs.RecordCacheLookup(name, true)
			return res, nil
		}
	}
	e.obs.RecordCacheLookup(name, false)

	// Callers after a purge must not join a load from the previous generation.
	v, err, _ := e.group.Do(gen+"/"+key, func() (any, error) {
		res, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if gen == "" {
			return res, nil
		}
		if err := e.store.Set(ctx, gen, key, res, ttl); err != nil {
			slog.Warn("result cache write", slog.String("query", name), slog.String("error", err.Error()))
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*warehouse.Result), nil
}
