package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ncecere/snowflake_query_monitor/internal/cost"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/monitor"
	"github.com/ncecere/snowflake_query_monitor/internal/observability"
	"github.com/ncecere/snowflake_query_monitor/internal/timeutil"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

var ErrRefreshUnsupported = errors.New("result cache refresh not available")

// Refresher drops cached warehouse results.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options wires a Service.
type Options struct {
	Executor         warehouse.Executor
	LiveTTL          time.Duration
	Location         *time.Location
	DefaultWarehouse string
	DefaultPreset    filter.Preset
	FallbackMinutes  int
	MaxConcurrent    int
	Observability    *observability.Provider
	Logger           *slog.Logger
	Now              func() time.Time
}

// Service assembles dashboard views for one operator selection.
type Service struct {
	monitor          *monitor.Service
	cost             *cost.Allocator
	exec             warehouse.Executor
	loc              *time.Location
	defaultWarehouse string
	defaultPreset    filter.Preset
	fallbackMinutes  int
	maxConcurrent    int
	obs              *observability.Provider
	logger           *slog.Logger
	now              func() time.Time
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	preset := opts.DefaultPreset
	if preset == "" {
		preset = filter.Preset7d
	}
	fallback := opts.FallbackMinutes
	if fallback == 0 {
		fallback = monitor.DefaultFallbackMinutes
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Service{
		monitor:          monitor.NewService(opts.Executor, opts.LiveTTL, logger),
		cost:             cost.NewAllocator(opts.Executor),
		exec:             opts.Executor,
		loc:              timeutil.EnsureLocation(opts.Location),
		defaultWarehouse: opts.DefaultWarehouse,
		defaultPreset:    preset,
		fallbackMinutes:  fallback,
		maxConcurrent:    maxConcurrent,
		obs:              opts.Observability,
		logger:           logger,
		now:              now,
	}
}

// Request is one dashboard refresh.
type Request struct {
	Selection       filter.Selection
	FallbackMinutes int
}

// DefaultWarehouse returns the warehouse preselected for new sessions.
func (s *Service) DefaultWarehouse() string { return s.defaultWarehouse }

// DefaultPreset returns the preselected time preset.
func (s *Service) DefaultPreset() filter.Preset { return s.defaultPreset }

// DefaultFallbackMinutes returns the preselected running-view look-back.
func (s *Service) DefaultFallbackMinutes() int { return s.fallbackMinutes }

// Location returns the reporting timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Resolve turns a selection into a filter using the service clock and zone.
func (s *Service) Resolve(sel filter.Selection) (filter.Spec, error) {
	if sel.Preset == "" {
		sel.Preset = s.defaultPreset
	}
	return filter.Build(sel, s.now(), s.loc)
}

// Section carries one view's data or the reason it could not be loaded.
type Section[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// CreditView is a credit rollup with its chart-ready pivot.
type CreditView struct {
	Buckets []cost.CreditBucket `json:"buckets"`
	Series  cost.CreditSeries   `json:"series"`
}

// Dashboard is every view for one selection. A failed view carries its error
// and leaves the others intact.
type Dashboard struct {
	Filter         filter.Spec                    `json:"filter"`
	GeneratedAt    time.Time                      `json:"generated_at"`
	StalenessNote  string                         `json:"staleness_note"`
	Warnings       []string                       `json:"warnings"`
	Status         Section[[]monitor.StatusCount] `json:"status_overview"`
	Top            Section[monitor.TopQueries]    `json:"top_queries"`
	LongRunning    Section[[]monitor.QueryRecord] `json:"long_running"`
	Running        Section[monitor.RunningView]   `json:"running"`
	History        Section[[]monitor.QueryRecord] `json:"raw_history"`
	HourlyCredits  Section[CreditView]            `json:"hourly_credits"`
	DailyCredits   Section[CreditView]            `json:"daily_credits"`
	EstimatedCosts Section[[]cost.EstimatedCost]  `json:"estimated_costs"`
}

// Build resolves the selection and computes every view.
func (s *Service) Build(ctx context.Context, req Request) (*Dashboard, error) {
	spec, err := s.Resolve(req.Selection)
	if err != nil {
		return nil, err
	}
	fallback := req.FallbackMinutes
	if fallback == 0 {
		fallback = s.fallbackMinutes
	}
	if !monitor.ValidFallbackMinutes(fallback) {
		return nil, monitor.ErrInvalidFallbackWindow
	}

	d := &Dashboard{
		Filter:        spec,
		GeneratedAt:   s.now().UTC(),
		StalenessNote: monitor.StalenessNote,
		Warnings:      []string{},
	}

	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	g.Go(func() error {
		data, err := s.monitor.StatusOverview(ctx, spec)
		fill(s, &d.Status, "status_overview", data, err, []monitor.StatusCount{})
		return nil
	})
	g.Go(func() error {
		data, err := s.monitor.TopQueries(ctx, spec)
		fill(s, &d.Top, "top_queries", data, err, emptyTop())
		return nil
	})
	g.Go(func() error {
		data, err := s.monitor.LongRunning(ctx, spec)
		fill(s, &d.LongRunning, "long_running", data, err, []monitor.QueryRecord{})
		return nil
	})
	g.Go(func() error {
		data, err := s.monitor.Running(ctx, spec.Warehouses, fallback)
		if data.Queries == nil {
			data.Queries = []monitor.QueryRecord{}
		}
		if data.Warnings == nil {
			data.Warnings = []string{}
		}
		fill(s, &d.Running, "running", data, err, data)
		return nil
	})
	g.Go(func() error {
		data, err := s.monitor.RawHistory(ctx, spec)
		fill(s, &d.History, "raw_history", data, err, []monitor.QueryRecord{})
		return nil
	})
	g.Go(func() error {
		data, err := s.credits(ctx, spec, cost.Hourly)
		fill(s, &d.HourlyCredits, "hourly_credits", data, err, emptyCredits())
		return nil
	})
	g.Go(func() error {
		data, err := s.credits(ctx, spec, cost.Daily)
		fill(s, &d.DailyCredits, "daily_credits", data, err, emptyCredits())
		return nil
	})
	g.Go(func() error {
		data, err := s.cost.Allocate(ctx, spec)
		fill(s, &d.EstimatedCosts, "estimated_costs", data, err, []cost.EstimatedCost{})
		return nil
	})
	_ = g.Wait()

	d.Warnings = append(d.Warnings, d.Running.Data.Warnings...)
	return d, nil
}

func (s *Service) Status(ctx context.Context, spec filter.Spec) ([]monitor.StatusCount, error) {
	return s.monitor.StatusOverview(ctx, spec)
}

func (s *Service) Top(ctx context.Context, spec filter.Spec) (monitor.TopQueries, error) {
	return s.monitor.TopQueries(ctx, spec)
}

func (s *Service) LongRunning(ctx context.Context, spec filter.Spec) ([]monitor.QueryRecord, error) {
	return s.monitor.LongRunning(ctx, spec)
}

func (s *Service) Running(ctx context.Context, sel filter.WarehouseSelection, fallbackMinutes int) (monitor.RunningView, error) {
	if fallbackMinutes == 0 {
		fallbackMinutes = s.fallbackMinutes
	}
	return s.monitor.Running(ctx, sel, fallbackMinutes)
}

func (s *Service) History(ctx context.Context, spec filter.Spec) ([]monitor.QueryRecord, error) {
	return s.monitor.RawHistory(ctx, spec)
}

func (s *Service) HourlyCredits(ctx context.Context, spec filter.Spec) (CreditView, error) {
	return s.credits(ctx, spec, cost.Hourly)
}

func (s *Service) DailyCredits(ctx context.Context, spec filter.Spec) (CreditView, error) {
	return s.credits(ctx, spec, cost.Daily)
}

func (s *Service) EstimatedCosts(ctx context.Context, spec filter.Spec) ([]cost.EstimatedCost, error) {
	return s.cost.Allocate(ctx, spec)
}

// Refresh drops cached results so the next build re-queries the warehouse.
func (s *Service) Refresh(ctx context.Context) error {
	r, ok := s.exec.(Refresher)
	if !ok {
		return ErrRefreshUnsupported
	}
	if err := r.Refresh(ctx); err != nil {
		return err
	}
	s.logger.Info("result cache refreshed")
	return nil
}

func (s *Service) credits(ctx context.Context, spec filter.Spec, unit cost.Granularity) (CreditView, error) {
	var (
		buckets []cost.CreditBucket
		err     error
	)
	if unit == cost.Daily {
		buckets, err = s.cost.DailyCredits(ctx, spec)
	} else {
		buckets, err = s.cost.HourlyCredits(ctx, spec)
	}
	if err != nil {
		return emptyCredits(), err
	}
	return CreditView{Buckets: buckets, Series: cost.Pivot(buckets)}, nil
}

func fill[T any](s *Service, sec *Section[T], view string, data T, err error, empty T) {
	if err != nil {
		s.obs.RecordViewFailure(view)
		s.logger.Warn("dashboard view failed", slog.String("view", view), slog.String("error", err.Error()))
		sec.Data = empty
		sec.Error = err.Error()
		return
	}
	sec.Data = data
}

func emptyTop() monitor.TopQueries {
	return monitor.TopQueries{
		ByElapsed:      []monitor.QueryRecord{},
		ByBytesScanned: []monitor.QueryRecord{},
		ByCloudCredits: []monitor.QueryRecord{},
	}
}

func emptyCredits() CreditView {
	return CreditView{Buckets: []cost.CreditBucket{}, Series: cost.Pivot(nil)}
}
