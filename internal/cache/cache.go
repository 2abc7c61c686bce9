// Package cache provides the bounded TTL result cache shared by the analyzers.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/liamashdown/walletsentinel/internal/metrics"
)

// Config bounds a cache
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// DefaultConfig is used when an analyzer is built without a cache config
var DefaultConfig = Config{TTL: 5 * time.Minute, MaxSize: 1000}

// Stats is a point-in-time view of cache counters
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Cache maps keys to values with TTL staleness and a maximum entry count.
// Entries are kept in insertion order, so eviction always removes the oldest
// insertion first. Re-setting a key counts as a fresh insertion.
type Cache[V any] struct {
	name  string
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
	order *list.List // front = oldest
	items map[string]*list.Element
	stats Stats
}

// Option customizes a cache
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache. Non-positive TTL or size fall back to DefaultConfig.
func New[V any](name string, cfg Config, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig.TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	return &Cache[V]{
		name:  name,
		cfg:   cfg,
		now:   o.now,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Name returns the metrics label of the cache
func (c *Cache[V]) Name() string { return c.name }

// TTL returns the staleness bound
func (c *Cache[V]) TTL() time.Duration { return c.cfg.TTL }

// Get returns the value for key if present and not stale. Stale entries are
// dropped on read.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		metrics.RecordCacheLookup(c.name, "miss")
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().Sub(e.insertedAt) > c.cfg.TTL {
		c.removeElement(el)
		c.stats.Misses++
		metrics.RecordCacheLookup(c.name, "stale")
		return zero, false
	}
	c.stats.Hits++
	metrics.RecordCacheLookup(c.name, "hit")
	return e.value, true
}

// Set stores value under key, evicting the oldest entries when full
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	evicted := 0
	if len(c.items) >= c.cfg.MaxSize {
		c.purgeStale()
	}
	for len(c.items) >= c.cfg.MaxSize {
		c.removeElement(c.order.Front())
		evicted++
	}
	if evicted > 0 {
		c.stats.Evictions += int64(evicted)
		metrics.RecordCacheEviction(c.name, evicted)
	}

	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, insertedAt: c.now()})
}

// Delete removes key and reports whether it was present
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// DeleteFunc removes every entry whose key matches and returns how many were removed
func (c *Cache[V]) DeleteFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*entry[V]).key) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Clear drops every entry
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of stored entries, stale ones included
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the cache counters
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// purgeStale drops stale entries; caller holds the lock
func (c *Cache[V]) purgeStale() {
	now := c.now()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*entry[V]).insertedAt) > c.cfg.TTL {
			c.removeElement(el)
		}
		el = next
	}
}

func (c *Cache[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
