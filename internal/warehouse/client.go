package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/snowflakedb/gosnowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/observability"
)

// DriverName is the database/sql driver registered by gosnowflake.
const DriverName = "snowflake"

const (
	showQueriesStmt    = "SHOW QUERIES IN WAREHOUSE IDENTIFIER(?)"
	showWarehousesStmt = "SHOW WAREHOUSES"
	resultScanStmt     = "SELECT * FROM TABLE(RESULT_SCAN(LAST_QUERY_ID()))"
)

var ErrNotConfigured = errors.New("warehouse client not configured")

// Executor runs read-only statements against the warehouse.
type Executor interface {
	Execute(ctx context.Context, query string, bindings filter.Bindings) (*Result, error)
	ShowLive(ctx context.Context, warehouse string) (*Result, error)
}

// Lister enumerates the warehouses visible to the configured role.
type Lister interface {
	ListWarehouses(ctx context.Context) ([]string, error)
}

// DSN builds the gosnowflake connection string for cfg. Sessions run in UTC
// so timestamp bindings and DATE_TRUNC buckets share one clock.
func DSN(cfg config.SnowflakeConfig) (string, error) {
	utc := "UTC"
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:     cfg.Account,
		User:        cfg.User,
		Password:    cfg.Password,
		Warehouse:   cfg.Warehouse,
		Database:    cfg.Database,
		Schema:      cfg.Schema,
		Role:        cfg.Role,
		Application: "query_monitor",
		Params:      map[string]*string{"TIMEZONE": &utc},
	})
}

// Open creates the connection pool. The caller owns the returned handle.
func Open(cfg config.SnowflakeConfig) (*sqlx.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Options tune a Client.
type Options struct {
	QueryTimeout        time.Duration
	MaxQueriesPerSecond float64
	Observability       *observability.Provider
	Logger              *slog.Logger
}

// Client executes statements over a shared connection pool. Submissions are
// serialised; the warehouse handle is not used concurrently.
type Client struct {
	db      *sqlx.DB
	mu      sync.Mutex
	limiter *rate.Limiter
	timeout time.Duration
	obs     *observability.Provider
	logger  *slog.Logger
}

func NewClient(db *sqlx.DB, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		db:      db,
		timeout: opts.QueryTimeout,
		obs:     opts.Observability,
		logger:  logger,
	}
	if opts.MaxQueriesPerSecond > 0 {
		burst := int(opts.MaxQueriesPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxQueriesPerSecond), burst)
	}
	return c
}

// Compile converts named placeholders into positional driver arguments.
func Compile(query string, bindings filter.Bindings) (string, []any, error) {
	if err := filter.ValidateBindings(query, bindings); err != nil {
		return "", nil, err
	}
	if len(bindings) == 0 {
		return query, nil, nil
	}
	compiled, args, err := sqlx.Named(query, map[string]any(bindings))
	if err != nil {
		return "", nil, fmt.Errorf("compile query: %w", err)
	}
	return compiled, args, nil
}

// Execute submits one statement with its bindings and returns the full result.
func (c *Client) Execute(ctx context.Context, query string, bindings filter.Bindings) (*Result, error) {
	if c == nil || c.db == nil {
		return nil, ErrNotConfigured
	}
	compiled, args, err := Compile(query, bindings)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = c.run(ctx, func(ctx context.Context) error {
		rows, err := c.db.QueryxContext(ctx, compiled, args...)
		if err != nil {
			return err
		}
		result, err = scanResult(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", QueryName(ctx), err)
	}
	return result, nil
}

// ShowLive lists the queries currently known to one warehouse using the
// privileged SHOW QUERIES command and a RESULT_SCAN of the same session.
func (c *Client) ShowLive(ctx context.Context, warehouse string) (*Result, error) {
	if c == nil || c.db == nil {
		return nil, ErrNotConfigured
	}
	var result *Result
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.showThenScan(ctx, showQueriesStmt, resultScanStmt, warehouse)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("show queries in %s: %w", warehouse, err)
	}
	return result, nil
}

// ListWarehouses returns the warehouse names, sorted.
func (c *Client) ListWarehouses(ctx context.Context) ([]string, error) {
	if c == nil || c.db == nil {
		return nil, ErrNotConfigured
	}
	var result *Result
	err := c.run(WithQueryName(ctx, "list_warehouses"), func(ctx context.Context) error {
		var err error
		result, err = c.showThenScan(ctx, showWarehousesStmt, resultScanStmt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	names := make([]string, 0, result.Len())
	for i := 0; i < result.Len(); i++ {
		if name := strings.TrimSpace(result.Row(i).String("name")); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping verifies the warehouse is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrNotConfigured
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.db.PingContext(timeoutCtx); err != nil {
		return fmt.Errorf("ping snowflake: %w", err)
	}
	return nil
}

// showThenScan runs a SHOW command and reads its output on one pinned session.
func (c *Client) showThenScan(ctx context.Context, show, scan string, args ...any) (*Result, error) {
	conn, err := c.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, show, args...); err != nil {
		return nil, err
	}
	rows, err := conn.QueryxContext(ctx, scan)
	if err != nil {
		return nil, err
	}
	return scanResult(rows)
}

func (c *Client) run(ctx context.Context, fn func(context.Context) error) error {
	name := QueryName(ctx)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := otel.Tracer("query_monitor/warehouse").Start(ctx, "warehouse."+name)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("warehouse query failed", slog.String("query", name), slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
	} else {
		c.logger.Debug("warehouse query", slog.String("query", name), slog.Duration("elapsed", elapsed))
	}
	span.SetAttributes(attribute.String("query.name", name), attribute.String("query.status", status))
	c.obs.RecordWarehouseQuery(name, status, elapsed)
	return err
}

func scanResult(rows *sqlx.Rows) (*Result, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	result := &Result{
		Columns: make([]Column, len(types)),
		Rows:    [][]any{},
	}
	for i, ct := range types {
		result.Columns[i] = Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
