package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/timeutil"
)

// renderfilter prints the predicate and bindings a selection produces,
// without touching the warehouse.
func main() {
	preset := pflag.StringP("preset", "p", "7d", "24h, 7d, 30d or custom")
	start := pflag.StringP("start", "s", "", "custom start date (YYYY-MM-DD)")
	end := pflag.StringP("end", "e", "", "custom end date (YYYY-MM-DD)")
	warehouses := pflag.StringP("warehouse", "w", filter.AllWarehousesSentinel, "comma-separated warehouses or ALL")
	user := pflag.StringP("user", "u", "", "user name filter")
	tag := pflag.StringP("tag", "t", "", "query tag filter")
	tz := pflag.String("tz", "UTC", "reporting timezone")
	pflag.Parse()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatalf("timezone: %v", err)
	}
	p, err := filter.ParsePreset(*preset)
	if err != nil {
		log.Fatalf("preset: %v", err)
	}
	sel := filter.Selection{
		Preset:     p,
		Warehouses: filter.ParseWarehouseSelection([]string{*warehouses}),
		User:       *user,
		Tag:        *tag,
	}
	if *start != "" {
		if sel.CustomStart, err = timeutil.ParseDate(*start, loc); err != nil {
			log.Fatalf("start: %v", err)
		}
	}
	if *end != "" {
		if sel.CustomEnd, err = timeutil.ParseDate(*end, loc); err != nil {
			log.Fatalf("end: %v", err)
		}
	}

	spec, err := filter.Build(sel, time.Now(), loc)
	if err != nil {
		log.Fatalf("build filter: %v", err)
	}
	for _, kind := range []struct {
		name  string
		build func() (filter.Predicate, error)
	}{
		{"query_history", spec.Predicate},
		{"warehouse_metering", spec.MeteringPredicate},
	} {
		pred, err := kind.build()
		if err != nil {
			log.Fatalf("%s predicate: %v", kind.name, err)
		}
		fmt.Printf("-- %s\nWHERE %s\n", kind.name, pred.SQL)
		for _, name := range pred.Bindings.Names() {
			fmt.Printf("  :%s = %v\n", name, pred.Bindings[name])
		}
		fmt.Println(strings.Repeat("-", 40))
	}
}
