package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

const (
	TopN                   = 10
	LongRunningThresholdMs = int64(600_000)
	RawHistoryLimit        = 500
	DefaultFallbackMinutes = 60
)

// StalenessNote accompanies every history-based view.
const StalenessNote = "ACCOUNT_USAGE data can lag 45-90 minutes. Use the running view for near real-time queries."

// SingleWarehouseReason explains why the running view is unavailable.
const SingleWarehouseReason = "select exactly one warehouse"

// FallbackWindows lists the accepted look-back windows, in minutes, for the
// running-queries fallback.
var FallbackWindows = []int{15, 30, 60, 120}

var ErrInvalidFallbackWindow = errors.New("fallback window must be one of 15, 30, 60, 120 minutes")

// ValidFallbackMinutes reports whether m is an accepted fallback window.
func ValidFallbackMinutes(m int) bool {
	for _, w := range FallbackWindows {
		if w == m {
			return true
		}
	}
	return false
}

type ttlExecutor interface {
	ExecuteTTL(ctx context.Context, query string, bindings filter.Bindings, ttl time.Duration) (*warehouse.Result, error)
}

// Service computes the overview metrics for a filter.
type Service struct {
	exec    warehouse.Executor
	liveTTL time.Duration
	logger  *slog.Logger
}

func NewService(exec warehouse.Executor, liveTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{exec: exec, liveTTL: liveTTL, logger: logger}
}

// StatusOverview counts queries per execution status, most frequent first.
func (s *Service) StatusOverview(ctx context.Context, spec filter.Spec) ([]StatusCount, error) {
	pred, err := spec.Predicate()
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(warehouse.WithQueryName(ctx, "status_overview"), fmt.Sprintf(statusOverviewSQL, pred.SQL), pred.Bindings)
	if err != nil {
		return nil, err
	}
	counts := statusCountsFromResult(res)
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	return counts, nil
}

// TopQueries ranks the filtered queries three ways from a single fetch.
type TopQueries struct {
	ByElapsed      []QueryRecord `json:"by_elapsed"`
	ByBytesScanned []QueryRecord `json:"by_bytes_scanned"`
	ByCloudCredits []QueryRecord `json:"by_cloud_credits"`
}

func (s *Service) TopQueries(ctx context.Context, spec filter.Spec) (TopQueries, error) {
	pred, err := spec.Predicate()
	if err != nil {
		return TopQueries{}, err
	}
	res, err := s.exec.Execute(warehouse.WithQueryName(ctx, "top_queries"), fmt.Sprintf(metricSQL, pred.SQL), pred.Bindings)
	if err != nil {
		return TopQueries{}, err
	}
	records := RecordsFromResult(res)
	return TopQueries{
		ByElapsed:      TopBy(records, MetricElapsed, TopN),
		ByBytesScanned: TopBy(records, MetricBytesScanned, TopN),
		ByCloudCredits: TopBy(records, MetricCloudCredits, TopN),
	}, nil
}

// LongRunning lists queries at or above the ten-minute threshold, longest first.
func (s *Service) LongRunning(ctx context.Context, spec filter.Spec) ([]QueryRecord, error) {
	pred, err := spec.Predicate()
	if err != nil {
		return nil, err
	}
	pred, err = pred.And("TOTAL_ELAPSED_TIME >= :long_running_ms", filter.Bindings{"long_running_ms": LongRunningThresholdMs})
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(warehouse.WithQueryName(ctx, "long_running"), fmt.Sprintf(longRunningSQL, pred.SQL), pred.Bindings)
	if err != nil {
		return nil, err
	}
	records := RecordsFromResult(res)
	out := records[:0]
	for _, r := range records {
		if r.TotalElapsedMs >= LongRunningThresholdMs {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalElapsedMs > out[j].TotalElapsedMs })
	return out, nil
}

// RawHistory returns the most recent matching queries, capped at RawHistoryLimit.
func (s *Service) RawHistory(ctx context.Context, spec filter.Spec) ([]QueryRecord, error) {
	pred, err := spec.Predicate()
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(warehouse.WithQueryName(ctx, "raw_history"), fmt.Sprintf(rawHistorySQL, pred.SQL, RawHistoryLimit), pred.Bindings)
	if err != nil {
		return nil, err
	}
	records := RecordsFromResult(res)
	if len(records) > RawHistoryLimit {
		records = records[:RawHistoryLimit]
	}
	return records, nil
}

// RunningSource names where a running-queries listing came from.
type RunningSource string

const (
	SourceLive     RunningSource = "show_queries"
	SourceFallback RunningSource = "information_schema"
)

// RunningView is the currently-running queries for one warehouse.
type RunningView struct {
	Available       bool          `json:"available"`
	Reason          string        `json:"reason,omitempty"`
	Warehouse       string        `json:"warehouse,omitempty"`
	Source          RunningSource `json:"source,omitempty"`
	FallbackMinutes int           `json:"fallback_minutes,omitempty"`
	Warnings        []string      `json:"warnings"`
	Queries         []QueryRecord `json:"queries"`
}

// Running lists in-flight queries. It needs exactly one concrete warehouse;
// otherwise no statement is issued. The privileged live listing is tried first
// and the INFORMATION_SCHEMA look-back is used when it fails or is empty.
func (s *Service) Running(ctx context.Context, sel filter.WarehouseSelection, fallbackMinutes int) (RunningView, error) {
	view := RunningView{Warnings: []string{}, Queries: []QueryRecord{}}
	if fallbackMinutes == 0 {
		fallbackMinutes = DefaultFallbackMinutes
	}
	if !ValidFallbackMinutes(fallbackMinutes) {
		return view, ErrInvalidFallbackWindow
	}
	wh, ok := sel.Single()
	if !ok {
		view.Reason = SingleWarehouseReason
		return view, nil
	}
	view.Available = true
	view.Warehouse = wh

	live, err := s.exec.ShowLive(warehouse.WithQueryName(ctx, "running_live"), wh)
	switch {
	case err != nil:
		s.logger.Warn("live running query listing failed", slog.String("warehouse", wh), slog.String("error", err.Error()))
		view.Warnings = append(view.Warnings, fmt.Sprintf("SHOW QUERIES unavailable (%v); using INFORMATION_SCHEMA fallback", err))
	default:
		running := onlyRunning(live)
		if running.Len() > 0 {
			view.Source = SourceLive
			view.Queries = RecordsFromResult(running)
			return view, nil
		}
		view.Warnings = append(view.Warnings, "SHOW QUERIES returned no running queries; using INFORMATION_SCHEMA fallback")
	}

	view.Source = SourceFallback
	view.FallbackMinutes = fallbackMinutes
	records, err := s.runningFallback(ctx, wh, fallbackMinutes)
	if err != nil {
		return view, err
	}
	view.Queries = records
	return view, nil
}

func (s *Service) runningFallback(ctx context.Context, wh string, minutes int) ([]QueryRecord, error) {
	ctx = warehouse.WithQueryName(ctx, "running_fallback")
	bindings := filter.Bindings{"warehouse": wh, "minutes": minutes}
	var (
		res *warehouse.Result
		err error
	)
	if te, ok := s.exec.(ttlExecutor); ok && s.liveTTL > 0 {
		res, err = te.ExecuteTTL(ctx, runningFallbackSQL, bindings, s.liveTTL)
	} else {
		res, err = s.exec.Execute(ctx, runningFallbackSQL, bindings)
	}
	if err != nil {
		return nil, err
	}
	return RecordsFromResult(res), nil
}

// onlyRunning keeps RUNNING rows when the listing carries an execution status.
func onlyRunning(res *warehouse.Result) *warehouse.Result {
	if res == nil {
		return &warehouse.Result{}
	}
	if !res.HasColumn("execution_status") {
		return res
	}
	return res.Filter(func(r warehouse.Row) bool {
		return strings.EqualFold(r.String("execution_status"), "RUNNING")
	})
}
