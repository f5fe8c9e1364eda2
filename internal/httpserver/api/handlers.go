package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/snowflake_query_monitor/internal/app"
	"github.com/ncecere/snowflake_query_monitor/internal/dashboard"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/httpserver/httputil"
	"github.com/ncecere/snowflake_query_monitor/internal/limits"
	"github.com/ncecere/snowflake_query_monitor/internal/monitor"
	"github.com/ncecere/snowflake_query_monitor/internal/timeutil"
)

type handler struct {
	container *app.Container
	svc       *dashboard.Service
}

// viewResponse wraps a single view with the filter it was computed for.
type viewResponse struct {
	Filter        filter.Spec `json:"filter"`
	StalenessNote string      `json:"staleness_note"`
	Data          any         `json:"data"`
}

func (h *handler) dashboard(c *fiber.Ctx) error {
	ctx := c.UserContext()
	release, err := h.container.AcquireRequestSlot(ctx, c.IP(), true)
	if err != nil {
		return writeError(c, err)
	}
	defer release()

	sel, err := selectionFromQuery(c, h.svc)
	if err != nil {
		return writeError(c, err)
	}
	fallback, err := fallbackFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	d, err := h.svc.Build(ctx, dashboard.Request{Selection: sel, FallbackMinutes: fallback})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(d)
}

func (h *handler) warehouses(c *fiber.Ctx) error {
	return c.JSON(h.svc.Warehouses(c.UserContext()))
}

func (h *handler) refresh(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if err := h.container.AllowRefresh(ctx, c.IP()); err != nil {
		return writeError(c, err)
	}
	if err := h.svc.Refresh(ctx); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "refreshed"})
}

func (h *handler) status(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.Status(ctx, spec)
	})
}

func (h *handler) top(c *fiber.Ctx) error {
	raw := c.Query("metric")
	metric, ok := monitor.ParseMetric(raw)
	if raw != "" && !ok {
		return httputil.WriteError(c, fiber.StatusBadRequest, "metric must be elapsed, bytes_scanned or cloud_credits")
	}
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		top, err := h.svc.Top(ctx, spec)
		if err != nil || raw == "" {
			return top, err
		}
		switch metric {
		case monitor.MetricBytesScanned:
			return top.ByBytesScanned, nil
		case monitor.MetricCloudCredits:
			return top.ByCloudCredits, nil
		default:
			return top.ByElapsed, nil
		}
	})
}

func (h *handler) longRunning(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.LongRunning(ctx, spec)
	})
}

func (h *handler) running(c *fiber.Ctx) error {
	fallback, err := fallbackFromQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	view, err := h.svc.Running(c.UserContext(), warehousesFromQuery(c, h.svc), fallback)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(view)
}

func (h *handler) history(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.History(ctx, spec)
	})
}

func (h *handler) hourlyCredits(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.HourlyCredits(ctx, spec)
	})
}

func (h *handler) dailyCredits(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.DailyCredits(ctx, spec)
	})
}

func (h *handler) estimatedCosts(c *fiber.Ctx) error {
	return h.view(c, func(ctx context.Context, spec filter.Spec) (any, error) {
		return h.svc.EstimatedCosts(ctx, spec)
	})
}

func (h *handler) view(c *fiber.Ctx, load func(context.Context, filter.Spec) (any, error)) error {
	sel, err := selectionFromQuery(c, h.svc)
	if err != nil {
		return writeError(c, err)
	}
	spec, err := h.svc.Resolve(sel)
	if err != nil {
		return writeError(c, err)
	}
	data, err := load(c.UserContext(), spec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(viewResponse{Filter: spec, StalenessNote: monitor.StalenessNote, Data: data})
}

func chargeRequest(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := container.AcquireRequestSlot(c.UserContext(), c.IP(), false); err != nil {
			return writeError(c, err)
		}
		return c.Next()
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		slog.Warn("api request failed",
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	return httputil.WriteError(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, filter.ErrInvalidPreset),
		errors.Is(err, filter.ErrMissingCustomRange),
		errors.Is(err, filter.ErrEmptyWarehouseList),
		errors.Is(err, timeutil.ErrInvalidDate),
		errors.Is(err, timeutil.ErrInvalidPeriod),
		errors.Is(err, monitor.ErrInvalidFallbackWindow):
		return fiber.StatusBadRequest
	case errors.Is(err, limits.ErrLimitExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, dashboard.ErrRefreshUnsupported):
		return fiber.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}
