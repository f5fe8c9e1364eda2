package dashboard

import (
	"context"
	"log/slog"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// WarehouseOptions is the selectable warehouse list.
type WarehouseOptions struct {
	Options []string `json:"options"`
	Default string   `json:"default"`
	Warning string   `json:"warning,omitempty"`
}

// Warehouses lists the sentinel first, then every visible warehouse. When the
// listing fails the configured default stands in for it.
func (s *Service) Warehouses(ctx context.Context) WarehouseOptions {
	opts := WarehouseOptions{Default: s.defaultWarehouse}
	candidates := []string{filter.AllWarehousesSentinel}

	var names []string
	var err error
	if lister, ok := s.exec.(warehouse.Lister); ok {
		names, err = lister.ListWarehouses(ctx)
	} else {
		err = warehouse.ErrNotConfigured
	}
	if err != nil {
		s.logger.Warn("list warehouses failed", slog.String("error", err.Error()))
		opts.Warning = "warehouse list unavailable: " + err.Error()
	}
	candidates = append(candidates, names...)
	if s.defaultWarehouse != "" {
		candidates = append(candidates, s.defaultWarehouse)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		opts.Options = append(opts.Options, c)
	}
	if opts.Default == "" {
		opts.Default = filter.AllWarehousesSentinel
	}
	return opts
}

// DefaultSelection is the warehouse selection applied when none is given.
func (s *Service) DefaultSelection() filter.WarehouseSelection {
	if s.defaultWarehouse == "" {
		return filter.AllWarehouses()
	}
	return filter.ParseWarehouseSelection([]string{s.defaultWarehouse})
}
