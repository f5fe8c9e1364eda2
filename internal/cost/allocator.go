package cost

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/monitor"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// EstimateLimit caps the estimated-cost listing.
const EstimateLimit = 50

// Granularity is the DATE_TRUNC unit of a credit rollup.
type Granularity string

const (
	Hourly Granularity = "hour"
	Daily  Granularity = "day"
)

// CreditBucket is the credits one warehouse consumed in one time bucket.
type CreditBucket struct {
	Bucket      time.Time `json:"bucket"`
	Warehouse   string    `json:"warehouse_name"`
	CreditsUsed float64   `json:"credits_used"`
}

// EstimatedCost attributes a share of its warehouse-hour's credits to one query.
// The share is proportional to elapsed time and is an estimate, not billing data.
type EstimatedCost struct {
	QueryID           string    `json:"query_id"`
	UserName          string    `json:"user_name"`
	WarehouseName     string    `json:"warehouse_name"`
	StartTime         time.Time `json:"start_time"`
	Hour              time.Time `json:"hour"`
	TotalElapsedMs    int64     `json:"total_elapsed_time_ms"`
	QueryText         string    `json:"query_text"`
	BucketCreditsUsed *float64  `json:"credits_used"`
	BucketElapsedMs   int64     `json:"bucket_elapsed_ms"`
	EstimatedCredits  *float64  `json:"estimated_credits"`
}

// Allocator reads credit metering and query history for cost views.
type Allocator struct {
	exec warehouse.Executor
}

func NewAllocator(exec warehouse.Executor) *Allocator {
	return &Allocator{exec: exec}
}

func (a *Allocator) HourlyCredits(ctx context.Context, spec filter.Spec) ([]CreditBucket, error) {
	return a.credits(warehouse.WithQueryName(ctx, "credits_hourly"), spec, Hourly)
}

func (a *Allocator) DailyCredits(ctx context.Context, spec filter.Spec) ([]CreditBucket, error) {
	return a.credits(warehouse.WithQueryName(ctx, "credits_daily"), spec, Daily)
}

func (a *Allocator) credits(ctx context.Context, spec filter.Spec, unit Granularity) ([]CreditBucket, error) {
	pred, err := spec.MeteringPredicate()
	if err != nil {
		return nil, err
	}
	res, err := a.exec.Execute(ctx, fmt.Sprintf(creditRollupSQL, unit, pred.SQL), pred.Bindings)
	if err != nil {
		return nil, err
	}
	out := make([]CreditBucket, 0, res.Len())
	for i := 0; i < res.Len(); i++ {
		row := res.Row(i)
		bucket, _ := row.Time("BUCKET")
		out = append(out, CreditBucket{
			Bucket:      bucket,
			Warehouse:   row.String("WAREHOUSE_NAME"),
			CreditsUsed: row.Float64("CREDITS_USED"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bucket.After(out[j].Bucket) })
	return out, nil
}

// Allocate estimates per-query credits for the filter. Both fetches honour the
// same time range and warehouse selection. Query text is read only for the
// rows that make the final listing.
func (a *Allocator) Allocate(ctx context.Context, spec filter.Spec) ([]EstimatedCost, error) {
	buckets, err := a.HourlyCredits(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("hourly credits: %w", err)
	}
	pred, err := spec.Predicate()
	if err != nil {
		return nil, err
	}
	pred, err = pred.And("WAREHOUSE_NAME IS NOT NULL", nil)
	if err != nil {
		return nil, err
	}
	res, err := a.exec.Execute(warehouse.WithQueryName(ctx, "cost_queries"), fmt.Sprintf(allocationQueriesSQL, pred.SQL), pred.Bindings)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := allocate(usagesFromResult(res), buckets)
	if err := a.attachText(ctx, pred, out); err != nil {
		return nil, fmt.Errorf("query text: %w", err)
	}
	return out, nil
}

func (a *Allocator) attachText(ctx context.Context, base filter.Predicate, rows []EstimatedCost) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.QueryID)
	}
	list, bindings := filter.InPlaceholders("qid", ids)
	pred, err := base.And("QUERY_ID IN ("+list+")", bindings)
	if err != nil {
		return err
	}
	res, err := a.exec.Execute(warehouse.WithQueryName(ctx, "cost_query_text"), fmt.Sprintf(queryTextSQL, pred.SQL), pred.Bindings)
	if err != nil {
		return err
	}
	texts := make(map[string]string, res.Len())
	for i := 0; i < res.Len(); i++ {
		row := res.Row(i)
		texts[row.String("QUERY_ID")] = row.String("QUERY_TEXT")
	}
	for i := range rows {
		rows[i].QueryText = texts[rows[i].QueryID]
	}
	return nil
}

// usage is a query with the elapsed total of its warehouse-hour.
type usage struct {
	monitor.QueryRecord
	bucketElapsedMs int64
}

func usagesFromResult(res *warehouse.Result) []usage {
	records := monitor.RecordsFromResult(res)
	out := make([]usage, len(records))
	for i, r := range records {
		out[i] = usage{QueryRecord: r, bucketElapsedMs: res.Row(i).Int64("BUCKET_ELAPSED_MS")}
	}
	return out
}

type bucketKey struct {
	hour      int64
	warehouse string
}

func hourKey(t time.Time, wh string) bucketKey {
	return bucketKey{hour: t.UTC().Truncate(time.Hour).Unix(), warehouse: wh}
}

// AllocateCredits splits each warehouse-hour's credits across the queries that
// started in it, proportionally to elapsed time. The estimate is nil when the
// hour has no metering row or its total elapsed time is zero. Results are
// ordered by estimate descending with nil estimates last, capped at EstimateLimit.
func AllocateCredits(records []monitor.QueryRecord, buckets []CreditBucket) []EstimatedCost {
	totals := make(map[bucketKey]int64)
	for _, r := range records {
		if r.WarehouseName == "" {
			continue
		}
		totals[hourKey(r.StartTime, r.WarehouseName)] += r.TotalElapsedMs
	}
	usages := make([]usage, 0, len(records))
	for _, r := range records {
		usages = append(usages, usage{QueryRecord: r, bucketElapsedMs: totals[hourKey(r.StartTime, r.WarehouseName)]})
	}
	return allocate(usages, buckets)
}

func allocate(usages []usage, buckets []CreditBucket) []EstimatedCost {
	credits := make(map[bucketKey]float64, len(buckets))
	for _, b := range buckets {
		credits[hourKey(b.Bucket, b.Warehouse)] += b.CreditsUsed
	}

	out := make([]EstimatedCost, 0, len(usages))
	for _, r := range usages {
		if r.WarehouseName == "" {
			continue
		}
		key := hourKey(r.StartTime, r.WarehouseName)
		est := EstimatedCost{
			QueryID:         r.QueryID,
			UserName:        r.UserName,
			WarehouseName:   r.WarehouseName,
			StartTime:       r.StartTime,
			Hour:            time.Unix(key.hour, 0).UTC(),
			TotalElapsedMs:  r.TotalElapsedMs,
			QueryText:       r.QueryText,
			BucketElapsedMs: r.bucketElapsedMs,
		}
		if c, ok := credits[key]; ok {
			used := c
			est.BucketCreditsUsed = &used
			est.EstimatedCredits = estimate(r.TotalElapsedMs, r.bucketElapsedMs, c)
		}
		out = append(out, est)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].EstimatedCredits, out[j].EstimatedCredits
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	if len(out) > EstimateLimit {
		out = out[:EstimateLimit]
	}
	return out
}

func estimate(elapsed, total int64, credits float64) *float64 {
	if total == 0 {
		return nil
	}
	share := decimal.NewFromInt(elapsed).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromFloat(credits))
	v, _ := share.Float64()
	return &v
}
