package models

import "time"

// CacheEntry is one stored aggregation result. Entries are advisory: losing
// one only causes a cache miss, never an incorrect result.
type CacheEntry struct {
	Key          string    `json:"key"`
	Result       []byte    `json:"result"`
	SizeBytes    int64     `json:"size_bytes"`
	HitCount     int64     `json:"hit_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the entry's absolute expiry has passed.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
