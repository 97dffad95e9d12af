// Package cache is an in-memory TTL cache keyed by serialized filter
// objects. Expired entries are evicted lazily on the first read after
// expiry; nothing sweeps in the background.
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sar/internal/metrics"
)

const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value    V
	storedAt time.Time
}

type Cache[V any] struct {
	name    string
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]entry[V]
}

type Option func(*options)

type options struct {
	clock   clockwork.Clock
	metrics *metrics.Metrics
}

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache whose entries are fresh for ttl. A non-positive ttl
// uses DefaultTTL. name labels the cache in metrics.
func New[V any](name string, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		clock:   o.clock,
		metrics: o.metrics,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value stored for key if it is still fresh. A stale entry
// is removed and reported absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.metrics.CacheMiss(c.name)
		return zero, false
	}
	if c.clock.Since(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		c.metrics.CacheEvicted(c.name, "expired", 1)
		c.metrics.CacheMiss(c.name)
		return zero, false
	}
	c.metrics.CacheHit(c.name)
	return e.value, true
}

// Set stores value under key, replacing any previous entry and restarting
// its freshness window.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, storedAt: c.clock.Now()}
	c.mu.Unlock()
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.metrics.CacheEvicted(c.name, "invalidated", 1)
	}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
	c.metrics.CacheEvicted(c.name, "cleared", n)
}

// Len counts stored entries, stale ones included until they are read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) TTL() time.Duration { return c.ttl }
