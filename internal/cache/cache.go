package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ncecere/snowflake_query_monitor/internal/filter"
	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// ResultCache stores tabular results for a bounded time.
//
// Every Purge starts a new generation. Set takes the generation observed
// before the result was loaded and drops the write when a purge happened in
// between, so a slow load can never repopulate a cleared cache.
type ResultCache interface {
	Get(ctx context.Context, key string) (*warehouse.Result, bool, error)
	Generation(ctx context.Context) (string, error)
	Set(ctx context.Context, gen, key string, result *warehouse.Result, ttl time.Duration) error
	Purge(ctx context.Context) error
}

// Key derives a stable cache key from the statement text and its bindings.
func Key(query string, bindings filter.Bindings) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, name := range bindings.Names() {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(formatValue(bindings[name])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case time.Time:
		return "time:" + val.UTC().Format(time.RFC3339Nano)
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
