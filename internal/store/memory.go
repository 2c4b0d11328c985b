package store

import (
	"context"
	"sync"
	"time"
)

// entry is a serialized value with its creation time and time-to-live.
type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.createdAt.Add(e.ttl))
}

// MemoryCache is a concurrency-safe in-memory TTL cache.
type MemoryCache struct {
	mu sync.RWMutex

	// key: cache key, value: serialized entry
	data map[string]entry

	// retention configuration
	maxEntries int // max number of live entries (0 = unlimited)

	now func() time.Time
}

// NewMemoryCache creates a new MemoryCache with an optional size limit.
// If maxEntries is <= 0, it is treated as unlimited.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		data:       make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the value stored under key if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check: the key may have been refreshed since we released the read lock.
		if cur, ok := c.data[key]; ok && cur.expired(c.now()) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl and enforces retention.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = entry{value: value, createdAt: now, ttl: ttl}

	// Enforce retention by count: drop expired entries first, then the oldest.
	if c.maxEntries > 0 && len(c.data) > c.maxEntries {
		c.pruneLocked(now)
		for len(c.data) > c.maxEntries {
			oldestKey := ""
			var oldest time.Time
			for k, e := range c.data {
				if oldestKey == "" || e.createdAt.Before(oldest) {
					oldestKey, oldest = k, e.createdAt
				}
			}
			delete(c.data, oldestKey)
		}
	}
	return nil
}

// Prune removes expired entries and returns how many were dropped.
func (c *MemoryCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(c.now())
}

func (c *MemoryCache) pruneLocked(now time.Time) int {
	removed := 0
	for k, e := range c.data {
		if e.expired(now) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
