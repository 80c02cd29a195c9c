package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bookpulse-io/bookpulse-engine/pkg/models"
)

// QueryKey derives the deterministic cache key for a metrics query.
//
// The query is serialized, decoded into a generic map, and re-serialized so
// that every object's keys come out sorted. Two queries with the same field
// values always hash identically regardless of how the caller assembled them.
func QueryKey(query *models.MetricsQuery) (string, error) {
	raw, err := json.Marshal(query)
	if err != nil {
		return "", fmt.Errorf("marshal metrics query: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("normalize metrics query: %w", err)
	}

	// encoding/json writes map keys in sorted order
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize metrics query: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
