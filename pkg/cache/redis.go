package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

const (
	// Redis key prefix for cached results
	resultKeyPrefix = "metrics:result:"
	// Index set tracking live cache keys for stats and purge bookkeeping
	indexKey = "metrics:result:index"
)

// RedisCache is the Redis-backed ResultCache used in deployments where
// multiple engine instances share cached results. Redis expires entries on
// its own; PurgeExpired only trims the index set.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a connected Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ ResultCache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, resultKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}

	now := time.Now()
	if entry.Expired(now) {
		return nil, false, nil
	}

	entry.HitCount++
	entry.LastAccessAt = now

	// Write back the bumped hit count without touching the remaining TTL.
	// A failure here only loses hit bookkeeping.
	if updated, err := json.Marshal(&entry); err == nil {
		c.client.Set(ctx, resultKeyPrefix+key, updated, redis.KeepTTL)
	}

	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	now := time.Now()
	entry := models.CacheEntry{
		Key:          key,
		Result:       result,
		SizeBytes:    int64(len(result)),
		HitCount:     0,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(ttl),
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, resultKeyPrefix+key, raw, ttl)
	pipe.SAdd(ctx, indexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache index read: %w", err)
	}

	purged := 0
	for _, key := range keys {
		exists, err := c.client.Exists(ctx, resultKeyPrefix+key).Result()
		if err != nil {
			return purged, fmt.Errorf("cache exists check: %w", err)
		}
		if exists == 0 {
			c.client.SRem(ctx, indexKey, key)
			purged++
		}
	}
	return purged, nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache index read: %w", err)
	}

	var stats Stats
	for _, key := range keys {
		raw, err := c.client.Get(ctx, resultKeyPrefix+key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("cache get: %w", err)
		}
		var entry models.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		stats.Entries++
		stats.TotalHits += entry.HitCount
		stats.TotalSizeBytes += entry.SizeBytes
	}
	return stats, nil
}
