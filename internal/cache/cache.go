// Package cache implements the gateway's single-namespace LRU cache and the
// multi-namespace manager layered on top of it, with TTL bookkeeping and a
// pluggable strategy layer for per-namespace TTL adjustment.
package cache

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry wraps a cached value with the bookkeeping spec.md's CacheEntry
// requires: insertion/expiry/last-access timestamps and an approximate
// byte size used for the memory-bound eviction path.
type entry struct {
	value        any
	insertedAt   time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	approxBytes  int
}

// Cache is a single-namespace, insertion-ordered LRU cache with TTL
// expiry and approximate byte-size accounting, wrapping
// github.com/hashicorp/golang-lru/v2 for the eviction-order bookkeeping.
type Cache struct {
	mu sync.Mutex

	namespace  string
	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration

	lru        *lru.Cache[string, *entry]
	totalBytes int64
}

// NewCache constructs a Cache bounded by maxEntries and maxBytes, with
// defaultTTL applied to entries inserted without an explicit TTL.
func NewCache(namespace string, maxEntries int, maxBytes int64, defaultTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		namespace:  namespace,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
	}
	// Every removal path (Remove, RemoveOldest, Purge, and the list's own
	// eviction inside Add at capacity) funnels through the callback, so
	// the byte total stays exact without per-call-site bookkeeping.
	l, _ := lru.NewWithEvict[string, *entry](maxEntries, func(_ string, e *entry) {
		c.totalBytes -= int64(e.approxBytes)
	})
	c.lru = l
	return c
}

// Get returns the value for k, or (nil, false) if absent or expired. An
// expired entry found on Get is removed before returning the miss.
func (c *Cache) Get(k string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		c.lru.Remove(k)
		return nil, false
	}
	e.lastAccessed = time.Now()
	return e.value, true
}

// Set inserts or replaces k's value. A ttl of zero uses the cache's
// defaultTTL. After insertion, entries are evicted in LRU order while the
// cache exceeds maxEntries or maxBytes.
func (c *Cache) Set(k string, v any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	size := approxSize(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if old, ok := c.lru.Peek(k); ok {
		c.totalBytes -= int64(old.approxBytes)
	}

	e := &entry{
		value:        v,
		insertedAt:   now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		approxBytes:  size,
	}
	c.lru.Add(k, e)
	c.totalBytes += int64(size)

	for c.maxBytes > 0 && c.totalBytes > c.maxBytes && c.lru.Len() > 0 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Has reports whether k is present and unexpired, without affecting LRU
// order.
func (c *Cache) Has(k string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(k)
	if !ok {
		return false
	}
	return time.Now().Before(e.expiresAt)
}

// Delete removes k unconditionally.
func (c *Cache) Delete(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(k)
}

// Clear empties the namespace.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Cleanup removes every expired entry, returning the number removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Len returns the current number of (possibly expired) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the current approximate byte-size total.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// EvictFraction evicts ceil(fraction * Len()) entries in LRU order, used by
// the cache manager's global eviction sweep. It returns the count evicted.
func (c *Cache) EvictFraction(fraction float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.lru.Len()
	if n == 0 {
		return 0
	}
	count := int(math.Ceil(fraction * float64(n)))
	if count == 0 {
		count = 1
	}
	evicted := 0
	for i := 0; i < count && c.lru.Len() > 0; i++ {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	return evicted
}

// approxSize estimates the byte footprint of an arbitrary cached value.
// Strings and byte slices are measured directly; everything else falls
// back to a fixed estimate, matching the "approximate" contract — exact
// accounting would require reflection over arbitrary domain types that
// this cache has no business knowing about.
func approxSize(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []byte:
		return len(val)
	case nil:
		return 0
	default:
		return 128
	}
}
