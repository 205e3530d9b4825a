package selector

import (
	"container/list"
)

// RecencyCache remembers the most recently selected key values so batches
// spread across the pool before reusing a key. Bounded LRU set: touching a
// value already present refreshes its recency instead of duplicating it,
// and inserting past capacity evicts the oldest entry.
type RecencyCache struct {
	capacity int
	order    *list.List // front is most recent
	entries  map[string]*list.Element
	touches  int
	hits     int
}

// NewRecencyCache creates a cache holding at most capacity values.
// A capacity of zero disables recency tracking entirely.
func NewRecencyCache(capacity int) *RecencyCache {
	if capacity < 0 {
		capacity = 0
	}

	return &RecencyCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// CapacityForPool returns the default cache capacity for a pool of n keys:
// 100 for pools under 100 keys, a tenth of the pool between 100 and 1000
// keys, capped at 1000 beyond that.
func CapacityForPool(n int) int {
	switch {
	case n < 100:
		return 100
	case n <= 1000:
		return n / 10
	default:
		capacity := n / 10
		if capacity > 1000 {
			capacity = 1000
		}

		return capacity
	}
}

// Touch records a selection of value, refreshing its recency when already
// present and evicting the oldest entry on overflow. Reports whether the
// value was already recent; the hit rate summarizes these re-selections.
func (c *RecencyCache) Touch(value string) bool {
	if c.capacity == 0 {
		return false
	}

	c.touches++

	if elem, ok := c.entries[value]; ok {
		c.hits++
		c.order.MoveToFront(elem)
		return true
	}

	c.entries[value] = c.order.PushFront(value)

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}

	return false
}

// Contains reports whether value was recently selected, without refreshing
// its recency.
func (c *RecencyCache) Contains(value string) bool {
	_, ok := c.entries[value]
	return ok
}

// Forget drops a single value, leaving recency statistics intact.
func (c *RecencyCache) Forget(value string) {
	if elem, ok := c.entries[value]; ok {
		c.order.Remove(elem)
		delete(c.entries, value)
	}
}

// Resize changes the capacity, evicting oldest entries as needed.
func (c *RecencyCache) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}

	c.capacity = capacity

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
}

// Clear drops all entries and statistics.
func (c *RecencyCache) Clear() {
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.touches = 0
	c.hits = 0
}

func (c *RecencyCache) Len() int {
	return c.order.Len()
}

func (c *RecencyCache) Capacity() int {
	return c.capacity
}

// HitRate returns the fraction of touches that refreshed an already-recent
// value. Zero before any touches.
func (c *RecencyCache) HitRate() float64 {
	if c.touches == 0 {
		return 0
	}

	return float64(c.hits) / float64(c.touches)
}
