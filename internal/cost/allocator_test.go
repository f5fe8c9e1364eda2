package cost

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/monitor"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

var hour = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestAllocateCreditsProportionalSplit(t *testing.T) {
	records := []monitor.QueryRecord{
		{QueryID: "small", WarehouseName: "WH", StartTime: hour.Add(5 * time.Minute), TotalElapsedMs: 100},
		{QueryID: "large", WarehouseName: "WH", StartTime: hour.Add(40 * time.Minute), TotalElapsedMs: 300},
	}
	buckets := []CreditBucket{{Bucket: hour, Warehouse: "WH", CreditsUsed: 4.0}}

	got := AllocateCredits(records, buckets)
	require.Len(t, got, 2)
	require.Equal(t, "large", got[0].QueryID)
	require.InDelta(t, 3.0, *got[0].EstimatedCredits, 1e-9)
	require.InDelta(t, 1.0, *got[1].EstimatedCredits, 1e-9)
	require.Equal(t, int64(400), got[0].BucketElapsedMs)
	require.True(t, got[0].Hour.Equal(hour))

	sum := *got[0].EstimatedCredits + *got[1].EstimatedCredits
	require.LessOrEqual(t, sum, 4.0+1e-9)
}

func TestAllocateCreditsZeroElapsedIsNil(t *testing.T) {
	records := []monitor.QueryRecord{
		{QueryID: "a", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 0},
		{QueryID: "b", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 0},
	}
	got := AllocateCredits(records, []CreditBucket{{Bucket: hour, Warehouse: "WH", CreditsUsed: 2}})
	require.Len(t, got, 2)
	for _, e := range got {
		require.Nil(t, e.EstimatedCredits)
		require.NotNil(t, e.BucketCreditsUsed)
	}
}

func TestAllocateCreditsMissingBucketIsNilAndLast(t *testing.T) {
	records := []monitor.QueryRecord{
		{QueryID: "unmetered", WarehouseName: "OTHER", StartTime: hour, TotalElapsedMs: 9999},
		{QueryID: "metered", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 1},
		{QueryID: "no-warehouse", StartTime: hour, TotalElapsedMs: 5},
	}
	got := AllocateCredits(records, []CreditBucket{{Bucket: hour, Warehouse: "WH", CreditsUsed: 0.5}})
	require.Len(t, got, 2)
	require.Equal(t, "metered", got[0].QueryID)
	require.InDelta(t, 0.5, *got[0].EstimatedCredits, 1e-9)
	require.Equal(t, "unmetered", got[1].QueryID)
	require.Nil(t, got[1].EstimatedCredits)
	require.Nil(t, got[1].BucketCreditsUsed)
}

func TestAllocateCreditsBoundsAndNoNaN(t *testing.T) {
	var records []monitor.QueryRecord
	var buckets []CreditBucket
	for h := 0; h < 10; h++ {
		start := hour.Add(time.Duration(h) * time.Hour)
		buckets = append(buckets, CreditBucket{Bucket: start, Warehouse: "WH", CreditsUsed: float64(h)})
		for q := 0; q < 8; q++ {
			records = append(records, monitor.QueryRecord{
				QueryID:        "q",
				WarehouseName:  "WH",
				StartTime:      start.Add(time.Duration(q) * time.Minute),
				TotalElapsedMs: int64(q * h),
			})
		}
	}
	got := AllocateCredits(records, buckets)
	require.Len(t, got, EstimateLimit)

	seenNil := false
	var prev = math.Inf(1)
	for _, e := range got {
		if e.EstimatedCredits == nil {
			seenNil = true
			continue
		}
		require.False(t, seenNil, "nil estimates must sort last")
		v := *e.EstimatedCredits
		require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		require.LessOrEqual(t, v, prev)
		prev = v
	}
}

func TestAllocateCreditsHourSumsMatchCredits(t *testing.T) {
	records := []monitor.QueryRecord{
		{QueryID: "a", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 7},
		{QueryID: "b", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 11},
		{QueryID: "c", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 13},
	}
	got := AllocateCredits(records, []CreditBucket{{Bucket: hour, Warehouse: "WH", CreditsUsed: 1.7}})
	var sum float64
	for _, e := range got {
		sum += *e.EstimatedCredits
	}
	require.InDelta(t, 1.7, sum, 1e-9)
}

type scriptedExecutor struct {
	queries []string
	results map[string]*warehouse.Result
}

func (s *scriptedExecutor) Execute(_ context.Context, query string, bindings filter.Bindings) (*warehouse.Result, error) {
	if err := filter.ValidateBindings(query, bindings); err != nil {
		return nil, err
	}
	s.queries = append(s.queries, query)
	for frag, res := range s.results {
		if strings.Contains(query, frag) {
			return res, nil
		}
	}
	return &warehouse.Result{}, nil
}

func (s *scriptedExecutor) ShowLive(context.Context, string) (*warehouse.Result, error) {
	return &warehouse.Result{}, nil
}

func TestAllocatorAllocateEndToEnd(t *testing.T) {
	exec := &scriptedExecutor{results: map[string]*warehouse.Result{
		"CREDITS_USED": {
			Columns: []warehouse.Column{{Name: "BUCKET"}, {Name: "WAREHOUSE_NAME"}, {Name: "CREDITS_USED"}},
			Rows:    [][]any{{hour, "WH", "4.000000000"}},
		},
		"BUCKET_ELAPSED_MS": {
			Columns: []warehouse.Column{{Name: "QUERY_ID"}, {Name: "WAREHOUSE_NAME"}, {Name: "START_TIME"}, {Name: "TOTAL_ELAPSED_TIME"}, {Name: "BUCKET_ELAPSED_MS"}},
			Rows: [][]any{
				{"q1", "WH", hour.Add(time.Minute), int64(100), int64(400)},
				{"q2", "WH", hour.Add(2 * time.Minute), int64(300), int64(400)},
			},
		},
		"QUERY_TEXT": {
			Columns: []warehouse.Column{{Name: "QUERY_ID"}, {Name: "QUERY_TEXT"}},
			Rows:    [][]any{{"q1", "select 1"}, {"q2", "select 2"}},
		},
	}}
	wh, _ := filter.SpecificWarehouses("WH")
	spec, err := filter.Build(filter.Selection{Preset: filter.Preset24h, Warehouses: wh, User: "alice"}, hour, time.UTC)
	require.NoError(t, err)

	got, err := NewAllocator(exec).Allocate(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "q2", got[0].QueryID)
	require.InDelta(t, 3.0, *got[0].EstimatedCredits, 1e-9)
	require.Equal(t, int64(400), got[0].BucketElapsedMs)
	require.Equal(t, "select 2", got[0].QueryText)
	require.Equal(t, "select 1", got[1].QueryText)

	require.Len(t, exec.queries, 3)
	require.Contains(t, exec.queries[0], "WAREHOUSE_METERING_HISTORY")
	require.NotContains(t, exec.queries[0], "USER_NAME")
	require.Contains(t, exec.queries[0], "WAREHOUSE_NAME IN (:wh_0)")
	require.Contains(t, exec.queries[1], "USER_NAME = :user_name")
	require.Contains(t, exec.queries[2], "QUERY_ID IN (:qid_0, :qid_1)")
}

func TestAllocationFetchLeavesQueryTextOut(t *testing.T) {
	exec := &scriptedExecutor{}
	spec, err := filter.Build(filter.Selection{Preset: filter.Preset30d}, hour, time.UTC)
	require.NoError(t, err)

	got, err := NewAllocator(exec).Allocate(context.Background(), spec)
	require.NoError(t, err)
	require.Empty(t, got)

	// no rows to describe, so no text lookup
	require.Len(t, exec.queries, 2)
	bulk := exec.queries[1]
	require.Contains(t, bulk, "QUERY_HISTORY")
	require.NotContains(t, bulk, "QUERY_TEXT")
	require.Contains(t, bulk, "SUM(TOTAL_ELAPSED_TIME) OVER")
	require.Contains(t, bulk, "PARTITION BY DATE_TRUNC('hour', START_TIME), WAREHOUSE_NAME")
}

func TestAllocateUsesWarehouseHourTotal(t *testing.T) {
	// the window total covers queries beyond the listing cap
	usages := []usage{
		{QueryRecord: monitor.QueryRecord{QueryID: "a", WarehouseName: "WH", StartTime: hour, TotalElapsedMs: 50}, bucketElapsedMs: 200},
	}
	got := allocate(usages, []CreditBucket{{Bucket: hour, Warehouse: "WH", CreditsUsed: 2}})
	require.Len(t, got, 1)
	require.InDelta(t, 0.5, *got[0].EstimatedCredits, 1e-9)
}

func TestDailyCreditsOrderedDescending(t *testing.T) {
	day1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	exec := &scriptedExecutor{results: map[string]*warehouse.Result{
		"DATE_TRUNC('day'": {
			Columns: []warehouse.Column{{Name: "BUCKET"}, {Name: "WAREHOUSE_NAME"}, {Name: "CREDITS_USED"}},
			Rows:    [][]any{{day1, "A", 1.5}, {day2, "A", 2.5}},
		},
	}}
	spec, err := filter.Build(filter.Selection{Preset: filter.Preset7d}, day2, time.UTC)
	require.NoError(t, err)

	got, err := NewAllocator(exec).DailyCredits(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].Bucket.Equal(day2))
	require.InDelta(t, 2.5, got[0].CreditsUsed, 1e-9)
}
