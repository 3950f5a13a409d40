package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultCapacity  = 50
	DefaultFreshness = time.Hour
)

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time

// Options configures a Memory cache.
type Options struct {
	Capacity  int
	Freshness time.Duration
	Clock     Clock
	// OnEvict is called with the key of every entry dropped by capacity
	// pressure. It runs while the cache lock is held and must not call back
	// into the cache.
	OnEvict func(key string)
}

// Memory is a bounded, insertion-ordered snapshot store.
//
// Eviction is strict FIFO by first insertion. Overwriting a key replaces its
// snapshot in place and keeps the key's original eviction slot. Expired
// snapshots are invisible to Lookup but keep occupying their slot until their
// key is inserted again or capacity pressure evicts them; there is no sweeper.
type Memory struct {
	capacity  int
	freshness time.Duration
	now       Clock
	onEvict   func(string)

	mu      sync.Mutex
	entries map[string]Snapshot
	order   *list.List
	stats   Stats
}

// NewMemory builds an empty cache. Non-positive capacity or freshness fall
// back to the package defaults.
func NewMemory(opts Options) *Memory {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Memory{
		capacity:  capacity,
		freshness: freshness,
		now:       now,
		onEvict:   opts.OnEvict,
		entries:   make(map[string]Snapshot, capacity+1),
		order:     list.New(),
	}
}

// Lookup returns the snapshot stored under key when it is still fresh. It
// never changes eviction order and never removes entries.
func (c *Memory) Lookup(key string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return Snapshot{}, false
	}
	if !snapshot.FreshAt(c.now(), c.freshness) {
		c.stats.Stale++
		c.stats.Misses++
		return Snapshot{}, false
	}
	c.stats.Hits++
	return snapshot, true
}

// Insert stores html under key with CreatedAt set to now and evicts the
// oldest-inserted entries while the cache is over capacity.
func (c *Memory) Insert(key, html string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := Snapshot{HTML: html, CreatedAt: c.now()}
	c.stats.Inserts++
	if _, ok := c.entries[key]; ok {
		c.entries[key] = snapshot
		return snapshot
	}
	c.entries[key] = snapshot
	c.order.PushBack(key)
	for len(c.entries) > c.capacity {
		c.evictOldestLocked()
	}
	return snapshot
}

func (c *Memory) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
	c.stats.Evictions++
	if c.onEvict != nil {
		c.onEvict(key)
	}
}

// Keys lists the stored keys, fresh or not, oldest insertion first.
func (c *Memory) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

// Size counts stored entries including expired ones still holding a slot.
func (c *Memory) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Memory) Capacity() int { return c.capacity }

func (c *Memory) Freshness() time.Duration { return c.freshness }

// Stats returns a copy of the activity counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Clear drops every entry. Counters are kept.
func (c *Memory) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Snapshot, c.capacity+1)
	c.order.Init()
}
