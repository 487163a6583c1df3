package memory

import (
	"context"
	"sync"
	"time"

	"trademind/internal/model"
)

type cacheEntry struct {
	rows    []model.CandleWithIndicators
	expires time.Time
}

// Cache is a bounded TTL map from query fingerprints to resolved candle
// sequences. Expiry is lazy (checked on read); when the entry count would
// exceed the capacity, the oldest-inserted entry is evicted first.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string // insertion order, oldest first
}

// NewCache creates a cache holding at most maxEntries sequences, each
// expiring ttl after write.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// Get returns the cached sequence for key, or ok=false when absent or
// expired. Expired entries are removed on the way out.
func (c *Cache) Get(ctx context.Context, key string) ([]model.CandleWithIndicators, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expires) {
		c.removeLocked(key)
		return nil, false, nil
	}
	return entry.rows, true, nil
}

// removeLocked deletes an entry and its insertion-order slot, so a later
// re-Set of the same key cannot leave a stale duplicate behind and order
// cannot grow past the entry map. Caller holds c.mu.
func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Set stores rows under key with a fresh TTL, evicting oldest-inserted
// entries as needed to stay within capacity.
func (c *Cache) Set(ctx context.Context, key string, rows []model.CandleWithIndicators) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{rows: rows, expires: c.now().Add(c.ttl)}
	return nil
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
