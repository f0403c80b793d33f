// Package cache provides a size-bounded LRU used for decoded blobs and
// calibration solutions.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vistream/internal/resource"
)

// LRU is a thread-safe least-recently-used cache bounded by total cost.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	cost      func(V) int64
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// NewLRU creates a cache holding at most capacity cost units. cost defaults
// to 1 per entry. If rc is non-nil, cached bytes are accounted against it and
// entries that cannot be reserved are not cached.
func NewLRU[K comparable, V any](capacity int64, cost func(V) int64, rc *resource.Controller) *LRU[K, V] {
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		cost:      cost,
		rc:        rc,
	}
}

// Get returns a cached value.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches a value, evicting older entries as needed. Values larger than
// the capacity are not cached.
func (c *LRU[K, V]) Set(key K, value V) {
	n := c.cost(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.capacity {
		return
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if delta := n - e.cost; delta > 0 {
			if err := c.rc.AcquireMemory(delta); err != nil {
				return
			}
		} else {
			c.rc.ReleaseMemory(-delta)
		}
		c.size += n - e.cost
		e.value, e.cost = value, n
		c.evictList.MoveToFront(el)
		c.evict()
		return
	}

	if err := c.rc.AcquireMemory(n); err != nil {
		return
	}
	c.items[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value, cost: n})
	c.size += n
	c.evict()
}

// Invalidate removes every entry whose key matches pred.
func (c *LRU[K, V]) Invalidate(pred func(K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.items {
		if pred(key) {
			c.remove(el)
		}
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the total cost of cached entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K, V]) evict() {
	for c.size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			return
		}
		c.remove(el)
	}
}

func (c *LRU[K, V]) remove(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.evictList.Remove(el)
	delete(c.items, e.key)
	c.size -= e.cost
	c.rc.ReleaseMemory(e.cost)
}
