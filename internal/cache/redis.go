package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

const (
	redisPrefix        = "qm:"
	redisGenerationKey = redisPrefix + "generation"
)

// RedisResultCache stores JSON-encoded results in Redis. Keys are scoped by a
// generation token so a purge invalidates every replica at once.
type RedisResultCache struct {
	client *redis.Client
}

func NewRedisResultCache(client *redis.Client) *RedisResultCache {
	return &RedisResultCache{client: client}
}

func (c *RedisResultCache) Get(ctx context.Context, key string) (*warehouse.Result, bool, error) {
	if c == nil || c.client == nil || key == "" {
		return nil, false, nil
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, c.prefixed(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached result: %w", err)
	}
	var result warehouse.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &result, true, nil
}

// Generation returns the token that currently scopes result keys.
func (c *RedisResultCache) Generation(ctx context.Context) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}
	return c.generation(ctx)
}

// Set writes under gen, not the current generation. A write for a rotated
// generation is skipped; if the rotation lands after the check the entry is
// still unreachable from Get and expires with its TTL.
func (c *RedisResultCache) Set(ctx context.Context, gen, key string, result *warehouse.Result, ttl time.Duration) error {
	if c == nil || c.client == nil || gen == "" || key == "" || result == nil {
		return nil
	}
	current, err := c.generation(ctx)
	if err != nil {
		return err
	}
	if current != gen {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return c.client.Set(ctx, c.prefixed(gen, key), data, ttl).Err()
}

// Purge rotates the generation and removes the entries of the previous one.
func (c *RedisResultCache) Purge(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	old, err := c.generation(ctx)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisGenerationKey, uuid.NewString(), 0).Err(); err != nil {
		return fmt.Errorf("rotate cache generation: %w", err)
	}

	iter := c.client.Scan(ctx, 0, c.prefixed(old, "*"), 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete cached results: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached results: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete cached results: %w", err)
		}
	}
	return nil
}

func (c *RedisResultCache) generation(ctx context.Context) (string, error) {
	gen, err := c.client.Get(ctx, redisGenerationKey).Result()
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("read cache generation: %w", err)
	}
	candidate := uuid.NewString()
	if err := c.client.SetNX(ctx, redisGenerationKey, candidate, 0).Err(); err != nil {
		return "", fmt.Errorf("init cache generation: %w", err)
	}
	return c.client.Get(ctx, redisGenerationKey).Result()
}

func (c *RedisResultCache) prefixed(gen, key string) string {
	return redisPrefix + "result:" + gen + ":" + key
}
