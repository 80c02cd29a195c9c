package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// MemoryCache is the in-process ResultCache used when Redis is not
// configured, and by tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
}

// NewMemoryCache creates an empty in-memory result cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*models.CacheEntry)}
}

var _ ResultCache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	now := time.Now()
	if entry.Expired(now) {
		delete(c.entries, key)
		return nil, false, nil
	}

	entry.HitCount++
	entry.LastAccessAt = now

	copied := *entry
	return &copied, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &models.CacheEntry{
		Key:          key,
		Result:       result,
		SizeBytes:    int64(len(result)),
		HitCount:     0,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(ttl),
	}
	return nil
}

func (c *MemoryCache) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			purged++
		}
	}
	return purged, nil
}

func (c *MemoryCache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Entries: len(c.entries)}
	for _, entry := range c.entries {
		stats.TotalHits += entry.HitCount
		stats.TotalSizeBytes += entry.SizeBytes
	}
	return stats, nil
}
