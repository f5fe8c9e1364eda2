package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Status is the last observed state of one dependency.
type Status struct {
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor periodically runs dependency checks and keeps the latest results so
// health probes do not open a warehouse session per request.
type Monitor struct {
	checks    map[string]Check
	interval  time.Duration
	timeout   time.Duration
	startOnce sync.Once

	mu      sync.RWMutex
	results map[string]Status
}

// NewMonitor constructs a monitor using the health configuration.
func NewMonitor(cfg config.HealthConfig) *Monitor {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > interval {
		timeout = 5 * time.Second
	}
	return &Monitor{
		checks:   make(map[string]Check),
		interval: interval,
		timeout:  timeout,
		results:  make(map[string]Status),
	}
}

// Register adds a named check. Call before Start.
func (m *Monitor) Register(name string, check Check) {
	if m == nil || check == nil {
		return
	}
	m.checks[name] = check
}

// Start begins the monitoring loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil || len(m.checks) == 0 {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs every check concurrently and records the results.
func (m *Monitor) CheckNow(ctx context.Context) {
	if m == nil {
		return
	}
	var wg sync.WaitGroup
	for name, check := range m.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			err := check(timeoutCtx)
			st := Status{Status: "ok", LatencyMs: time.Since(start).Milliseconds(), CheckedAt: time.Now().UTC()}
			if err != nil {
				st.Status = "error"
				st.Error = err.Error()
				slog.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
			}
			m.mu.Lock()
			m.results[name] = st
			m.mu.Unlock()
		}(name, check)
	}
	wg.Wait()
}

// Snapshot returns the overall state and a copy of every check. Checks that
// have not run yet report "pending".
func (m *Monitor) Snapshot() (string, map[string]Status) {
	out := make(map[string]Status)
	if m == nil {
		return "ok", out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	overall := "ok"
	for name := range m.checks {
		st, ok := m.results[name]
		if !ok {
			st = Status{Status: "pending"}
		}
		if st.Status == "error" {
			overall = "degraded"
		}
		out[name] = st
	}
	return overall, out
}
