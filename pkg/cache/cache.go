// ABOUTME: Generic LRU cache with per-entry TTL for search result pages
// ABOUTME: Reads are the expiry point of truth; a sweeper collects cold entries

// Package cache provides the bounded result cache in front of the search
// index. Entries expire after a TTL and the least recently used entry is
// evicted at capacity.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Config tunes one cache. Zero values take the defaults.
type Config struct {
	// MaxEntries bounds the cache; the oldest entry is evicted to make
	// room. Default 100.
	MaxEntries int
	// TTL is the lifetime of an entry from its last Set. Default 10m.
	TTL time.Duration
	// SweepInterval is how often expired cold entries are collected.
	// Default 60s.
	SweepInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxEntries <= 0 {
		out.MaxEntries = 100
	}
	if out.TTL <= 0 {
		out.TTL = 10 * time.Minute
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 60 * time.Second
	}
	return out
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64 // capacity evictions
	TTLEvictions uint64 // expiry removals, from Get or the sweeper
	Entries      int
}

type entry[V any] struct {
	key     string
	val     V
	expires time.Time
}

// Cache is a TTL-bounded LRU, safe for concurrent use.
type Cache[V any] struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
	stats Stats
	stop  chan struct{}
	done  chan struct{}
}

// New creates a cache. Call StartSweeper to enable background expiry of
// entries nothing reads anymore.
func New[V any](cfg Config) *Cache[V] {
	return &Cache[V]{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// SetClock replaces the time source, for tests.
func (c *Cache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Key builds the cache key for one search page. Query must already be
// normalized so equivalent spellings share an entry; the page and size
// keep distinct pages from colliding.
func Key(query string, page, size int) string {
	return fmt.Sprintf("%s|%d|%d", query, page, size)
}

// Get returns the live value for key. Expiry is decided here, not in the
// sweeper: an expired entry found by Get is removed immediately and
// counts as a miss. A hit refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !c.now().Before(e.expires) {
		c.remove(el)
		c.stats.Misses++
		c.stats.TTLEvictions++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.val, true
}

// Has reports whether key holds a live entry without refreshing its
// recency or touching the hit counters. An expired entry found here is
// removed, like in Get.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if !c.now().Before(el.Value.(*entry[V]).expires) {
		c.remove(el)
		c.stats.TTLEvictions++
		return false
	}
	return true
}

// Delete removes key and reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// Set stores val under key, resetting its TTL. At capacity the least
// recently used entry is evicted first.
func (c *Cache[V]) Set(key string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.cfg.TTL)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.val = val
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.cfg.MaxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[V]{key: key, val: val, expires: expires})
}

// remove unlinks one element. Caller holds the lock.
func (c *Cache[V]) remove(el *list.Element) {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.items, e.key)
}

// Purge drops every entry, keeping counters.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Stats returns a counter snapshot.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	return s
}

// StartSweeper begins periodic collection of expired entries that no Get
// will ever touch again. Stop with StopSweeper.
func (c *Cache[V]) StartSweeper() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// StopSweeper halts the background sweeper and waits for it to exit.
func (c *Cache[V]) StopSweeper() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// sweep removes expired entries. Live entries keep their relative LRU
// order; removal of dead ones cannot reorder the survivors.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var dead []*list.Element
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if !now.Before(el.Value.(*entry[V]).expires) {
			dead = append(dead, el)
		}
	}
	for _, el := range dead {
		c.remove(el)
		c.stats.TTLEvictions++
	}
}
