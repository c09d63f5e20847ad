package domain

import "time"

// CacheEntry is the aggregator's cache state: the last merged snapshot plus
// the sticky quota-exhaustion marker.
type CacheEntry struct {
	Snapshot        *Snapshot `json:"snapshot"`
	QuotaExceeded   bool      `json:"quotaExceeded"`
	QuotaExceededAt time.Time `json:"quotaExceededAt,omitempty"`
}

// Suppressed reports whether upstream calls must be skipped at now.
func (e CacheEntry) Suppressed(now time.Time, window time.Duration) bool {
	return e.QuotaExceeded && now.Sub(e.QuotaExceededAt) < window
}
