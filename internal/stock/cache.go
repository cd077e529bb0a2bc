package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "stock:levels:version"

// LevelCache serves stock level reads from Redis with version-bump
// invalidation. Readers tolerate the TTL of staleness; writers bump the
// version after commit so the next read repopulates.
type LevelCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLevelCache instantiates the cache helper.
func NewLevelCache(client *redis.Client, ttl time.Duration) *LevelCache {
	return &LevelCache{client: client, ttl: ttl}
}

func (c *LevelCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func levelKey(key Key, ver int64) string {
	return fmt.Sprintf("stock:level:%d:%d:%d:%d:%d", key.TenantID, key.LocationID, key.ProductID, key.VariantID, ver)
}

// Fetch loads a cached level or populates it using the loader. Cache
// failures fall back to the loader rather than failing the read.
func (c *LevelCache) Fetch(ctx context.Context, key Key, loader func(context.Context) (Level, error)) (Level, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.version(ctx)
	if err != nil {
		return loader(ctx)
	}
	redisKey := levelKey(key, ver)

	payload, err := c.client.Get(ctx, redisKey).Bytes()
	if err == nil {
		var level Level
		if err := json.Unmarshal(payload, &level); err == nil {
			return level, nil
		}
	} else if err != redis.Nil {
		return loader(ctx)
	}

	level, err := loader(ctx)
	if err != nil {
		return Level{}, err
	}
	raw, err := json.Marshal(level)
	if err != nil {
		return Level{}, err
	}
	_ = c.client.Set(ctx, redisKey, raw, c.ttl).Err()
	return level, nil
}

// Bump invalidates all cached levels by incrementing the global version.
func (c *LevelCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
