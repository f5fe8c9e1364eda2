package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/snowflake_query_monitor/internal/dashboard"
	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/timeutil"
)

var errBadParam = errors.New("invalid query parameter")

// selectionFromQuery reads preset, start, end, warehouse, user and tag.
// start/end without a preset imply a custom range.
func selectionFromQuery(c *fiber.Ctx, svc *dashboard.Service) (filter.Selection, error) {
	var sel filter.Selection
	loc := svc.Location()

	if raw := strings.TrimSpace(c.Query("preset")); raw != "" {
		preset, err := filter.ParsePreset(raw)
		if err != nil {
			return sel, err
		}
		sel.Preset = preset
	}
	start, end := strings.TrimSpace(c.Query("start")), strings.TrimSpace(c.Query("end"))
	if start != "" || end != "" {
		if sel.Preset == "" {
			sel.Preset = filter.PresetCustom
		}
		if start != "" {
			t, err := timeutil.ParseDate(start, loc)
			if err != nil {
				return sel, fmt.Errorf("start: %w", err)
			}
			sel.CustomStart = t
		}
		if end != "" {
			t, err := timeutil.ParseDate(end, loc)
			if err != nil {
				return sel, fmt.Errorf("end: %w", err)
			}
			sel.CustomEnd = t
		}
	}

	sel.Warehouses = warehousesFromQuery(c, svc)
	sel.User = c.Query("user")
	sel.Tag = c.Query("tag")
	return sel, nil
}

func warehousesFromQuery(c *fiber.Ctx, svc *dashboard.Service) filter.WarehouseSelection {
	raw := c.Context().QueryArgs().PeekMulti("warehouse")
	if len(raw) == 0 {
		return svc.DefaultSelection()
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		values = append(values, string(v))
	}
	return filter.ParseWarehouseSelection(values)
}

func fallbackFromQuery(c *fiber.Ctx) (int, error) {
	raw := strings.TrimSpace(c.Query("fallback_minutes"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: fallback_minutes must be an integer", errBadParam)
	}
	return n, nil
}
