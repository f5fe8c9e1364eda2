package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/snowflake_query_monitor/internal/app"
	"github.com/ncecere/snowflake_query_monitor/internal/dashboard"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/limits"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

type stubExecutor struct {
	mu        sync.Mutex
	err       error
	queries   []string
	refreshed int
}

func (s *stubExecutor) Execute(_ context.Context, query string, bindings filter.Bindings) (*warehouse.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if err := filter.ValidateBindings(query, bindings); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if strings.Contains(query, "GROUP BY EXECUTION_STATUS") {
		return &warehouse.Result{
			Columns: []warehouse.Column{{Name: "EXECUTION_STATUS"}, {Name: "QUERY_COUNT"}},
			Rows:    [][]any{{"SUCCESS", int64(4)}},
		}, nil
	}
	if strings.Contains(query, "CREDITS_USED_CLOUD_SERVICES") {
		return &warehouse.Result{
			Columns: []warehouse.Column{{Name: "QUERY_ID"}, {Name: "BYTES_SCANNED"}},
			Rows:    [][]any{{"small", int64(1)}, {"big", int64(9)}},
		}, nil
	}
	return &warehouse.Result{Rows: [][]any{}}, nil
}

func (s *stubExecutor) ShowLive(context.Context, string) (*warehouse.Result, error) {
	return nil, errors.New("insufficient privileges")
}

func (s *stubExecutor) ListWarehouses(context.Context) ([]string, error) {
	return []string{"ANALYTICS_WH"}, nil
}

func (s *stubExecutor) Refresh(context.Context) error {
	s.mu.Lock()
	s.refreshed++
	s.mu.Unlock()
	return nil
}

func newTestApp(t *testing.T, exec *stubExecutor, limiter *limits.RateLimiter) *fiber.App {
	t.Helper()
	container := &app.Container{
		Dashboard: dashboard.NewService(dashboard.Options{
			Executor:         exec,
			Location:         time.UTC,
			DefaultWarehouse: "FIVETRAN_WAREHOUSE",
			Now:              func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		}),
		RateLimiter: limiter,
	}
	fiberApp := fiber.New()
	Register(fiberApp, container)
	return fiberApp
}

func doRequest(t *testing.T, fiberApp *fiber.App, method, target string) (int, map[string]any) {
	t.Helper()
	resp, err := fiberApp.Test(httptest.NewRequest(method, target, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func TestStatusViewReturnsFilterAndData(t *testing.T) {
	exec := &stubExecutor{}
	fiberApp := newTestApp(t, exec, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/overview/status?preset=24h&warehouse=ALL&user=ETL")
	require.Equal(t, fiber.StatusOK, status)

	f := body["filter"].(map[string]any)
	require.Equal(t, "24h", f["preset"])
	require.Equal(t, []any{"ALL"}, f["warehouses"])
	require.Equal(t, "ETL", f["user"])
	require.NotEmpty(t, body["staleness_note"])
	data := body["data"].([]any)
	require.Len(t, data, 1)

	require.Len(t, exec.queries, 1)
	require.NotContains(t, exec.queries[0], "WAREHOUSE_NAME IN")
	require.Contains(t, exec.queries[0], "USER_NAME = :user_name")
}

func TestDefaultWarehouseAppliedWhenOmitted(t *testing.T) {
	exec := &stubExecutor{}
	fiberApp := newTestApp(t, exec, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/overview/history")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, []any{"FIVETRAN_WAREHOUSE"}, body["filter"].(map[string]any)["warehouses"])
	require.Contains(t, exec.queries[0], "WAREHOUSE_NAME IN (:wh_0)")
}

func TestCommaSeparatedWarehouses(t *testing.T) {
	exec := &stubExecutor{}
	fiberApp := newTestApp(t, exec, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/overview/long-running?warehouse=A_WH,B_WH&warehouse=C_WH")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, []any{"A_WH", "B_WH", "C_WH"}, body["filter"].(map[string]any)["warehouses"])
}

func TestInvalidSelectionsAreBadRequests(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{}, nil)

	for _, target := range []string{
		"/api/v1/overview/status?preset=90d",
		"/api/v1/overview/status?start=2025-05-01",
		"/api/v1/overview/status?start=yesterday&end=2025-05-01",
		"/api/v1/overview/running?fallback_minutes=45",
		"/api/v1/overview/running?fallback_minutes=soon",
		"/api/v1/overview/top?metric=rows",
		"/api/v1/dashboard?fallback_minutes=45",
	} {
		status, body := doRequest(t, fiberApp, "GET", target)
		require.Equal(t, fiber.StatusBadRequest, status, target)
		require.NotEmpty(t, body["error"], target)
	}
}

func TestCustomRange(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{}, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/cost/daily?start=2025-05-10&end=2025-05-01")
	require.Equal(t, fiber.StatusOK, status)
	f := body["filter"].(map[string]any)
	require.Equal(t, "custom", f["preset"])
	rng := f["range"].(map[string]any)
	require.True(t, strings.HasPrefix(rng["start"].(string), "2025-05-01T00:00:00"))
	require.True(t, strings.HasPrefix(rng["end"].(string), "2025-05-10T23:59:59"))
}

func TestWarehouseFailureIsBadGateway(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{err: errors.New("warehouse suspended")}, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/cost/estimated")
	require.Equal(t, fiber.StatusBadGateway, status)
	require.Contains(t, body["error"], "warehouse suspended")
}

func TestTopSingleMetric(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{}, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/overview/top?metric=bytes_scanned")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].([]any)
	require.Len(t, data, 2)
	require.Equal(t, "big", data[0].(map[string]any)["query_id"])
}

func TestRunningFallsBackWhenLiveListingFails(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{}, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/overview/running?warehouse=ANALYTICS_WH&fallback_minutes=30")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, true, body["available"])
	require.Equal(t, "information_schema", body["source"])
	require.EqualValues(t, 30, body["fallback_minutes"])
	require.NotEmpty(t, body["warnings"])

	status, body = doRequest(t, fiberApp, "GET", "/api/v1/overview/running?warehouse=ALL")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, false, body["available"])
}

func TestDashboardAndRefresh(t *testing.T) {
	exec := &stubExecutor{}
	fiberApp := newTestApp(t, exec, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/dashboard?warehouse=ANALYTICS_WH")
	require.Equal(t, fiber.StatusOK, status)
	for _, key := range []string{"status_overview", "top_queries", "long_running", "running", "raw_history", "hourly_credits", "daily_credits", "estimated_costs"} {
		require.Contains(t, body, key)
	}

	status, body = doRequest(t, fiberApp, "POST", "/api/v1/refresh")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "refreshed", body["status"])
	require.Equal(t, 1, exec.refreshed)
}

func TestWarehousesListing(t *testing.T) {
	fiberApp := newTestApp(t, &stubExecutor{}, nil)

	status, body := doRequest(t, fiberApp, "GET", "/api/v1/warehouses")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, []any{"ALL", "ANALYTICS_WH", "FIVETRAN_WAREHOUSE"}, body["options"])
	require.Equal(t, "FIVETRAN_WAREHOUSE", body["default"])
}

func TestRateLimitedRequestsGet429(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := limits.NewRateLimiter(client, limits.LimitConfig{RequestsPerMinute: 1})
	fiberApp := newTestApp(t, &stubExecutor{}, limiter)

	status, _ := doRequest(t, fiberApp, "GET", "/api/v1/warehouses")
	require.Equal(t, fiber.StatusOK, status)
	status, body := doRequest(t, fiberApp, "GET", "/api/v1/warehouses")
	require.Equal(t, fiber.StatusTooManyRequests, status)
	require.Equal(t, limits.ErrLimitExceeded.Error(), body["error"])
}

func TestDashboardChargedOncePerRequest(t *testing.T) {
	for _, target := range []string{"/api/v1/dashboard", "/api/v1/dashboard/", "/API/V1/Dashboard"} {
		t.Run(target, func(t *testing.T) {
			server := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: server.Addr()})
			t.Cleanup(func() { _ = client.Close() })

			limiter := limits.NewRateLimiter(client, limits.LimitConfig{RequestsPerMinute: 1, ParallelRequests: 1})
			fiberApp := newTestApp(t, &stubExecutor{}, limiter)

			status, body := doRequest(t, fiberApp, "GET", target)
			if status != fiber.StatusOK {
				t.Fatalf("first request to %s: status %d body %v", target, status, body)
			}
			status, _ = doRequest(t, fiberApp, "GET", target)
			require.Equal(t, fiber.StatusTooManyRequests, status)
		})
	}
}
