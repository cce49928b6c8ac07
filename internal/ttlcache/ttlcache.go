// Package ttlcache provides the one bounded TTL cache shape used by every
// duplicate-suppression map in the engine (pending commands, recently
// recovered keys, session failures, error throttles, inbound dedupe).
// Keeping one eviction policy avoids the subtle drift that comes from each
// call site growing its own map-plus-timestamps.
package ttlcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a bounded TTL map. Safe for concurrent use.
type Cache struct {
	inner   *gocache.Cache
	maxKeys int
}

// New creates a cache whose entries expire after ttl. maxKeys <= 0 means
// unbounded; otherwise Set refuses new keys once the cap is hit and the
// janitor has not yet evicted expired ones.
func New(ttl time.Duration, maxKeys int) *Cache {
	cleanup := ttl
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Cache{
		inner:   gocache.New(ttl, cleanup),
		maxKeys: maxKeys,
	}
}

// Set stores a value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	if c.maxKeys > 0 && c.inner.ItemCount() >= c.maxKeys {
		if _, ok := c.inner.Get(key); !ok {
			c.inner.DeleteExpired()
			if c.inner.ItemCount() >= c.maxKeys {
				return
			}
		}
	}
	c.inner.SetDefault(key, value)
}

// Get returns the value for key and whether it is present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	return c.inner.Get(key)
}

// Has reports presence without retrieving.
func (c *Cache) Has(key string) bool {
	_, ok := c.inner.Get(key)
	return ok
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.inner.Delete(key)
}

// MarkOnce records key and reports whether it was already present.
// The canonical dedupe primitive: first caller gets false, repeats get true.
func (c *Cache) MarkOnce(key string) bool {
	if c.Has(key) {
		return true
	}
	c.Set(key, struct{}{})
	return false
}

// Len returns the current entry count, expired items included until sweep.
func (c *Cache) Len() int {
	return c.inner.ItemCount()
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.inner.Flush()
}
