// Package cache implements the metrics result cache. Entries are advisory:
// every failure degrades to a cache miss, never to a wrong result.
package cache

import (
	"context"
	"time"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// Stats summarizes cache bookkeeping for the weekly analysis job.
type Stats struct {
	Entries        int   `json:"entries"`
	TotalHits      int64 `json:"total_hits"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// ResultCache stores computed aggregation results keyed by the normalized
// query hash. Get bumps the hit count and last-access time; Set resets them.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	Set(ctx context.Context, key string, result []byte, ttl time.Duration) error
	PurgeExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}
