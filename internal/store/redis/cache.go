package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trademind/internal/model"
)

// Cache stores resolved candle sequences as JSON strings with a server-side
// TTL. Capacity bounding falls to Redis key expiry plus the deployment's
// maxmemory policy; the in-process cache enforces an explicit entry count
// instead.
type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewCache creates a cache whose entries expire ttl after write.
func NewCache(rdb *goredis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get returns the cached sequence for key, or ok=false when absent or
// expired.
func (c *Cache) Get(ctx context.Context, key string) ([]model.CandleWithIndicators, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var rows []model.CandleWithIndicators
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return rows, true, nil
}

// Set stores rows under key with a fresh TTL.
func (c *Cache) Set(ctx context.Context, key string, rows []model.CandleWithIndicators) error {
	b, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
