// Package fetchcache is a cross-cutting TTL + single-flight cache for
// logical requests, keyed by string. It prevents redundant concurrent
// fetches during frequent navigation and is independent of the notification
// domain.
package fetchcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is deliberately short: the cache exists to absorb bursts of
// identical requests, not to be a source of truth.
const DefaultTTL = 30 * time.Second

// Loader produces the value for a key on a cache miss.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	value    any
	storedAt time.Time
}

// Cache is a TTL cache with at most one in-flight load per key. Expired
// entries are evicted lazily on next access, never swept.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a cache with the given default TTL; ttl <= 0 selects
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for key while fresh, otherwise runs exactly
// one loader flight for the key; every concurrent caller shares that
// flight's value or error. Errors are never cached.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (any, error) {
	return c.GetTTL(ctx, key, c.ttl, loader)
}

// GetTTL is Get with a per-key TTL override.
func (c *Cache) GetTTL(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if value, ok := c.lookup(key, ttl); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a racing caller may have just
		// completed the load.
		if value, ok := c.lookup(key, ttl); ok {
			return value, nil
		}
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	return value, err
}

// Invalidate evicts a key and forgets any in-flight load for it, so a read
// issued after a mutation can never adopt a stale flight's result.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// InvalidateAll evicts everything.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(k)
	}
}

func (c *Cache) lookup(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
	c.mu.Unlock()
}
