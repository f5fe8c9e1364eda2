package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/snowflake_query_monitor/internal/app"
)

// Register wires the monitor API under /api/v1. Every route except the
// dashboard is charged by chargeRequest; the dashboard handler charges itself
// together with its parallel slot.
func Register(router fiber.Router, container *app.Container) {
	group := router.Group("/api/v1")
	h := &handler{container: container, svc: container.Dashboard}
	charge := chargeRequest(container)

	group.Get("/dashboard", h.dashboard)
	group.Get("/warehouses", charge, h.warehouses)
	group.Post("/refresh", charge, h.refresh)

	overview := group.Group("/overview", charge)
	overview.Get("/status", h.status)
	overview.Get("/top", h.top)
	overview.Get("/long-running", h.longRunning)
	overview.Get("/running", h.running)
	overview.Get("/history", h.history)

	costs := group.Group("/cost", charge)
	costs.Get("/hourly", h.hourlyCredits)
	costs.Get("/daily", h.dailyCredits)
	costs.Get("/estimated", h.estimatedCosts)
}
