package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncecere/snowflake_query_monitor/internal/timeutil"
)

// AllWarehousesSentinel is the operator-facing token meaning "no warehouse restriction".
const AllWarehousesSentinel = "ALL"

var (
	ErrInvalidPreset      = errors.New("invalid time preset")
	ErrMissingCustomRange = errors.New("custom range requires start and end dates")
	ErrEmptyWarehouseList = errors.New("warehouse list is empty")
)

// Preset names a quick time range.
type Preset string

const (
	Preset24h    Preset = "24h"
	Preset7d     Preset = "7d"
	Preset30d    Preset = "30d"
	PresetCustom Preset = "custom"
)

var presetDays = map[Preset]int{
	Preset24h: 1,
	Preset7d:  7,
	Preset30d: 30,
}

// ParsePreset accepts the preset names case-insensitively.
func ParsePreset(value string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(value)))
	if p == PresetCustom {
		return p, nil
	}
	if _, ok := presetDays[p]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPreset, value)
}

// WarehouseSelection is either every warehouse or a non-empty list of names.
type WarehouseSelection struct {
	all   bool
	names []string
}

// AllWarehouses selects every warehouse.
func AllWarehouses() WarehouseSelection {
	return WarehouseSelection{all: true}
}

// SpecificWarehouses selects the given names, trimmed and de-duplicated.
func SpecificWarehouses(names ...string) (WarehouseSelection, error) {
	clean := normalizeNames(names)
	if len(clean) == 0 {
		return WarehouseSelection{}, ErrEmptyWarehouseList
	}
	return WarehouseSelection{names: clean}, nil
}

// ParseWarehouseSelection interprets operator input. Comma-separated values are
// split. The sentinel anywhere, or an empty list, selects every warehouse.
func ParseWarehouseSelection(values []string) WarehouseSelection {
	var names []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if strings.EqualFold(part, AllWarehousesSentinel) {
				return AllWarehouses()
			}
			if part != "" {
				names = append(names, part)
			}
		}
	}
	sel, err := SpecificWarehouses(names...)
	if err != nil {
		return AllWarehouses()
	}
	return sel
}

// All reports whether no warehouse restriction applies.
func (w WarehouseSelection) All() bool { return w.all || len(w.names) == 0 }

// Names returns a copy of the selected names; nil for every warehouse.
func (w WarehouseSelection) Names() []string {
	if w.All() {
		return nil
	}
	return append([]string(nil), w.names...)
}

// Single returns the warehouse when exactly one concrete warehouse is selected.
func (w WarehouseSelection) Single() (string, bool) {
	if w.All() || len(w.names) != 1 {
		return "", false
	}
	return w.names[0], true
}

func (w WarehouseSelection) String() string {
	if w.All() {
		return AllWarehousesSentinel
	}
	return strings.Join(w.names, ",")
}

func (w WarehouseSelection) MarshalJSON() ([]byte, error) {
	if w.All() {
		return json.Marshal([]string{AllWarehousesSentinel})
	}
	return json.Marshal(w.names)
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	clean := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		clean = append(clean, n)
	}
	return clean
}

// Selection is the raw operator input for a dashboard refresh.
type Selection struct {
	Preset      Preset
	CustomStart time.Time
	CustomEnd   time.Time
	Warehouses  WarehouseSelection
	User        string
	Tag         string
}

// Spec is a resolved, validated filter.
type Spec struct {
	Preset     Preset             `json:"preset"`
	Range      timeutil.Range     `json:"range"`
	Warehouses WarehouseSelection `json:"warehouses"`
	User       string             `json:"user,omitempty"`
	Tag        string             `json:"tag,omitempty"`
}

// Build resolves a selection against now in loc.
func Build(sel Selection, now time.Time, loc *time.Location) (Spec, error) {
	loc = timeutil.EnsureLocation(loc)
	preset := sel.Preset
	if preset == "" {
		preset = Preset7d
	}

	var rng timeutil.Range
	if preset == PresetCustom {
		if sel.CustomStart.IsZero() || sel.CustomEnd.IsZero() {
			return Spec{}, ErrMissingCustomRange
		}
		rng = timeutil.DayRange(sel.CustomStart, sel.CustomEnd, loc)
	} else {
		days, ok := presetDays[preset]
		if !ok {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidPreset, preset)
		}
		r, err := timeutil.LastDays(days, now, loc)
		if err != nil {
			return Spec{}, err
		}
		rng = r
	}

	return Spec{
		Preset:     preset,
		Range:      rng,
		Warehouses: sel.Warehouses,
		User:       strings.TrimSpace(sel.User),
		Tag:        strings.TrimSpace(sel.Tag),
	}, nil
}

// Predicate renders the query-history filter: time range, warehouses, user and tag.
func (s Spec) Predicate() (Predicate, error) {
	var b Builder
	if err := s.addCommon(&b); err != nil {
		return Predicate{}, err
	}
	if s.User != "" {
		if err := b.Add("USER_NAME = :user_name", Bindings{"user_name": s.User}); err != nil {
			return Predicate{}, err
		}
	}
	if s.Tag != "" {
		if err := b.Add("QUERY_TAG = :query_tag", Bindings{"query_tag": s.Tag}); err != nil {
			return Predicate{}, err
		}
	}
	return b.Predicate(), nil
}

// MeteringPredicate renders the credit-metering filter: time range and warehouses only.
func (s Spec) MeteringPredicate() (Predicate, error) {
	var b Builder
	if err := s.addCommon(&b); err != nil {
		return Predicate{}, err
	}
	return b.Predicate(), nil
}

func (s Spec) addCommon(b *Builder) error {
	err := b.Add("START_TIME >= :start_ts AND START_TIME <= :end_ts", Bindings{
		"start_ts": s.Range.Start.UTC(),
		"end_ts":   s.Range.End.UTC(),
	})
	if err != nil {
		return err
	}
	if names := s.Warehouses.Names(); len(names) > 0 {
		list, bindings := InPlaceholders("wh", names)
		if err := b.Add("WAREHOUSE_NAME IN ("+list+")", bindings); err != nil {
			return err
		}
	}
	return nil
}
