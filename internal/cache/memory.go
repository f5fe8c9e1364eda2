package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// MemoryResultCache keeps results in process memory.
type MemoryResultCache struct {
	mu    sync.RWMutex
	epoch uint64
	items *ttlcache.Cache[string, *warehouse.Result]
}

// NewMemoryResultCache builds an in-process cache; capacity 0 means unbounded.
// Call Close to stop the expiry loop.
func NewMemoryResultCache(capacity uint64) *MemoryResultCache {
	opts := []ttlcache.Option[string, *warehouse.Result]{
		ttlcache.WithDisableTouchOnHit[string, *warehouse.Result](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *warehouse.Result](capacity))
	}
	items := ttlcache.New[string, *warehouse.Result](opts...)
	go items.Start()
	return &MemoryResultCache{items: items}
}

func (c *MemoryResultCache) Get(_ context.Context, key string) (*warehouse.Result, bool, error) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (c *MemoryResultCache) Generation(context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strconv.FormatUint(c.epoch, 10), nil
}

func (c *MemoryResultCache) Set(_ context.Context, gen, key string, result *warehouse.Result, ttl time.Duration) error {
	if result == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != strconv.FormatUint(c.epoch, 10) {
		return nil
	}
	c.items.Set(key, result, ttl)
	return nil
}

// Purge bumps the epoch and drops every entry.
func (c *MemoryResultCache) Purge(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.items.DeleteAll()
	return nil
}

// Len reports the number of live entries.
func (c *MemoryResultCache) Len() int { return c.items.Len() }

func (c *MemoryResultCache) Close() { c.items.Stop() }
