package warehouse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Column describes one result column.
type Column struct {
	Name         string `json:"name"`
	DatabaseType string `json:"database_type,omitempty"`
}

// Result is a column-ordered tabular result. It survives a JSON round trip, so
// accessors accept the decoded forms as well as the driver's native values.
type Result struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows; zero for a nil result.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Index returns the position of the named column, ignoring case, or -1.
func (r *Result) Index(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (r *Result) HasColumn(name string) bool { return r.Index(name) >= 0 }

// Row returns an accessor for row i.
func (r *Result) Row(i int) Row {
	return Row{result: r, values: r.Rows[i]}
}

// Filter returns a result holding only the rows keep accepts.
func (r *Result) Filter(keep func(Row) bool) *Result {
	out := &Result{Columns: r.Columns, Rows: make([][]any, 0, len(r.Rows))}
	for i := range r.Rows {
		if keep(r.Row(i)) {
			out.Rows = append(out.Rows, r.Rows[i])
		}
	}
	return out
}

// Row reads typed values from a result row by column name. Missing columns and
// NULLs yield zero values.
type Row struct {
	result *Result
	values []any
}

func (r Row) value(name string) any {
	idx := r.result.Index(name)
	if idx < 0 || idx >= len(r.values) {
		return nil
	}
	return r.values[idx]
}

// IsNull reports whether the column is NULL or absent.
func (r Row) IsNull(name string) bool { return r.value(name) == nil }

func (r Row) String(name string) string {
	switch v := r.value(name).(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Float64(name string) float64 {
	f, _ := toFloat(r.value(name))
	return f
}

func (r Row) Int64(name string) int64 {
	switch v := r.value(name).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	}
	f, ok := toFloat(r.value(name))
	if !ok {
		return 0
	}
	return int64(math.Round(f))
}

// Time returns the timestamp and whether it was present.
func (r Row) Time(name string) (time.Time, bool) {
	switch v := r.value(name).(type) {
	case time.Time:
		return v, true
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	}
	return time.Time{}, false
}

// TimePtr returns nil for NULL timestamps.
func (r Row) TimePtr(name string) *time.Time {
	t, ok := r.Time(name)
	if !ok {
		return nil
	}
	return &t
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
