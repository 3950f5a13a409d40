package cache

import "time"

// Snapshot is one successfully rendered page. It is never mutated after
// creation; a stale snapshot is replaced wholesale by a later insert.
type Snapshot struct {
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

// Age reports how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// FreshAt reports whether the snapshot may still be served at now. The window
// is half-open: a snapshot created at T is fresh while now < T+window.
func (s Snapshot) FreshAt(now time.Time, window time.Duration) bool {
	return s.Age(now) < window
}

// ExpiresAt is the first instant at which the snapshot stops being served.
func (s Snapshot) ExpiresAt(window time.Duration) time.Time {
	return s.CreatedAt.Add(window)
}

// Stats are running counters of cache activity since creation.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Stale     uint64 `json:"stale"`
	Inserts   uint64 `json:"inserts"`
	Evictions uint64 `json:"evictions"`
}
