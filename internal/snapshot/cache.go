package snapshot

import (
	"sort"
	"sync"
	"time"
)

// historyCache keeps the most recent snapshots per device, newest first,
// unique by reading timestamp.
//
// A device's cache is complete when it is known to hold every persisted
// snapshot, so short histories can be served without going to the store.
type historyCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]Snapshot
	complete map[string]bool
}

func newHistoryCache(capacity int) *historyCache {
	return &historyCache{
		capacity: capacity,
		entries:  make(map[string][]Snapshot),
		complete: make(map[string]bool),
	}
}

// markComplete records that the cache for deviceID mirrors the whole store.
func (c *historyCache) markComplete(deviceID string) {
	c.mu.Lock()
	c.complete[deviceID] = true
	c.mu.Unlock()
}

// merge folds snapshots into the device's cache, replacing entries that share
// a timestamp, and trims to capacity.
func (c *historyCache) merge(deviceID string, snaps ...Snapshot) {
	if len(snaps) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byTime := make(map[int64]Snapshot, len(c.entries[deviceID])+len(snaps))
	for _, s := range c.entries[deviceID] {
		byTime[s.Reading.Timestamp.UnixNano()] = s
	}
	for _, s := range snaps {
		byTime[s.Reading.Timestamp.UnixNano()] = s
	}

	merged := make([]Snapshot, 0, len(byTime))
	for _, s := range byTime {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Reading.Timestamp.After(merged[j].Reading.Timestamp)
	})
	if len(merged) > c.capacity {
		merged = merged[:c.capacity]
		c.complete[deviceID] = false
	}
	c.entries[deviceID] = merged
}

// recent returns up to limit cached snapshots and whether the cache could
// satisfy the full limit.
func (c *historyCache) recent(deviceID string, limit int) ([]Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached := c.entries[deviceID]
	if len(cached) < limit {
		if !c.complete[deviceID] {
			return nil, false
		}
		limit = len(cached)
	}
	out := make([]Snapshot, limit)
	copy(out, cached[:limit])
	return out, true
}

// since returns every cached snapshot at or after t, provided the cache
// reaches back at least that far.
func (c *historyCache) since(deviceID string, t time.Time) ([]Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached := c.entries[deviceID]
	covered := len(cached) > 0 && !cached[len(cached)-1].Reading.Timestamp.After(t)
	if !covered && !c.complete[deviceID] {
		return nil, false
	}
	var out []Snapshot
	for _, s := range cached {
		if s.Reading.Timestamp.Before(t) {
			break
		}
		out = append(out, s)
	}
	return out, true
}

func (c *historyCache) len(deviceID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[deviceID])
}
