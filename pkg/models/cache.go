package models

import (
	"fmt"
	"time"
)

// ModelKey identifies a resident model. Reference distinguishes the system's own
// model from an audited one that may share the same base weights.
type ModelKey struct {
	ID        string
	Reference bool
}

func (k ModelKey) String() string {
	return fmt.Sprintf("%s_%t", k.ID, k.Reference)
}

// CacheItem is the telemetry view of one resident model.
type CacheItem struct {
	Key         string    `json:"key"`
	SizeMB      float64   `json:"size_mb"`
	AccessCount int64     `json:"access_count"`
	AddedAt     time.Time `json:"added_at"`
	AgeSeconds  float64   `json:"age_seconds"`
	IdleSeconds float64   `json:"idle_seconds"`
}

// CacheStats reports model cache occupancy.
type CacheStats struct {
	TotalItems  int         `json:"total_items"`
	TotalSizeMB float64     `json:"total_size_mb"`
	CapacityMB  float64     `json:"capacity_mb"`
	Items       []CacheItem `json:"items"`
}

// ResponseCacheStats reports inference response cache performance.
type ResponseCacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
