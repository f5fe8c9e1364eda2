package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/snowflake_query_monitor/internal/config"
)

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter    *promreg.CounterVec
	httpRequestLatency    *promreg.HistogramVec
	warehouseQueryCounter *promreg.CounterVec
	warehouseQueryLatency *promreg.HistogramVec
	cacheLookups          *promreg.CounterVec
	cachePurges           promreg.Counter
	viewFailures          *promreg.CounterVec
}

const namespace = "query_monitor"

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("query-monitor"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		rawEndpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		endpoint := rawEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		client := otlptracegrpc.NewClient(opts...)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := metric.NewMeterProvider(
			metric.WithReader(promExporter),
			metric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		provider.meterProvider = mp
		provider.promExporter = promExporter
		provider.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		provider.shutdownFuncs = append(provider.shutdownFuncs, mp.Shutdown)

		httpRequests := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed.",
			},
			[]string{"method", "route", "status"},
		)
		latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10}
		httpLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "route", "status"},
		)
		queryBuckets := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
		warehouseQueries := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "warehouse_queries_total",
				Help:      "Total number of statements submitted to the warehouse.",
			},
			[]string{"query", "status"},
		)
		warehouseLatency := promreg.NewHistogramVec(
			promreg.HistogramOpts{
				Namespace: namespace,
				Name:      "warehouse_query_duration_seconds",
				Help:      "Duration of warehouse statements in seconds.",
				Buckets:   queryBuckets,
			},
			[]string{"query", "status"},
		)
		cacheLookups := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "result_cache_lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"query", "outcome"},
		)
		cachePurges := promreg.NewCounter(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "result_cache_purges_total",
				Help:      "Number of manual result cache refreshes.",
			},
		)
		viewFailures := promreg.NewCounterVec(
			promreg.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_view_failures_total",
				Help:      "Dashboard views that failed to load.",
			},
			[]string{"view"},
		)
		for _, c := range []promreg.Collector{httpRequests, httpLatency, warehouseQueries, warehouseLatency, cacheLookups, cachePurges, viewFailures} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
		provider.httpRequestCounter = httpRequests
		provider.httpRequestLatency = httpLatency
		provider.warehouseQueryCounter = warehouseQueries
		provider.warehouseQueryLatency = warehouseLatency
		provider.cacheLookups = cacheLookups
		provider.cachePurges = cachePurges
		provider.viewFailures = viewFailures
	}

	return provider, nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordWarehouseQuery tracks one warehouse statement. status is "ok" or "error".
func (p *Provider) RecordWarehouseQuery(query, status string, duration time.Duration) {
	if p == nil {
		return
	}
	if p.warehouseQueryCounter != nil {
		p.warehouseQueryCounter.WithLabelValues(query, status).Inc()
	}
	if p.warehouseQueryLatency != nil {
		p.warehouseQueryLatency.WithLabelValues(query, status).Observe(duration.Seconds())
	}
}

func (p *Provider) RecordCacheLookup(query string, hit bool) {
	if p == nil || p.cacheLookups == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	p.cacheLookups.WithLabelValues(query, outcome).Inc()
}

func (p *Provider) RecordCachePurge() {
	if p == nil || p.cachePurges == nil {
		return
	}
	p.cachePurges.Inc()
}

func (p *Provider) RecordViewFailure(view string) {
	if p == nil || p.viewFailures == nil {
		return
	}
	p.viewFailures.WithLabelValues(view).Inc()
}
