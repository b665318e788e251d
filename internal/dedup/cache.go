// Package dedup provides a bounded, TTL-keyed set used to suppress
// reprocessing of the same logical feed event within a configurable window.
package dedup

import (
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache pairs an insertion-ordered queue with a key index. The queue drives
// TTL eviction from the front; the index gives O(1) membership tests. Once the
// queue is full the oldest entry is dropped regardless of age, so capacity is
// a soft memory bound while TTL remains the primary expiry mechanism.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	queue    []entry
	index    map[string]time.Time
	now      func() time.Time
}

// New creates a cache that forgets keys after ttl and never holds more than
// capacity entries. A non-positive capacity is clamped to one so Add never
// has to evict from an empty queue.
func New(ttl time.Duration, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		queue:    make([]entry, 0, capacity),
		index:    make(map[string]time.Time, capacity),
		now:      time.Now,
	}
}

// Add records a key sighting. If the cache is at capacity the oldest entry is
// evicted first.
func (c *Cache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) >= c.capacity {
		c.evictOldest()
	}

	ts := c.now()
	c.queue = append(c.queue, entry{key: key, seen: ts})
	c.index[key] = ts
	c.gc()
}

// Seen reports whether the key is present and not yet aged out.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gc()
	_, ok := c.index[key]
	return ok
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Cache) gc() {
	cutoff := c.now().Add(-c.ttl)
	for len(c.queue) > 0 && c.queue[0].seen.Before(cutoff) {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	oldest := c.queue[0]
	c.queue = c.queue[1:]
	// Only drop the index entry if it still refers to this sighting; the same
	// key may have been re-added with a newer timestamp.
	if ts, ok := c.index[oldest.key]; ok && ts.Equal(oldest.seen) {
		delete(c.index, oldest.key)
	}
}
