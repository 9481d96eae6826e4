package lrucache

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

type LRUCacheStats struct {
	HitsTotal, MissesTotal int
	EvictionsTotal         int
	MoveToFrontTotal       int
	NewItemsTotal          int
}

// LRUCache is a size-bounded map that drops its least recently used entry
// when full. OnEvict, if set, runs for every dropped entry while the cache
// lock is held, so it must not call back into the cache.
type LRUCache[K comparable, V any] struct {
	cache   map[K]*list.Element
	list    *list.List
	size    int
	mu      sync.Mutex
	stats   *LRUCacheStats
	onEvict func(K, V)
}

func New[K comparable, V any](size int) *LRUCache[K, V] {
	if size < 1 {
		size = 1
	}
	return &LRUCache[K, V]{
		cache: make(map[K]*list.Element),
		list:  list.New(),
		size:  size,
		stats: &LRUCacheStats{},
	}
}

// OnEvict registers fn to run for entries dropped to make room.
func (c *LRUCache[K, V]) OnEvict(fn func(K, V)) *LRUCache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
	return c
}

func (c *LRUCache[K, V]) Stats() LRUCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stats
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// GetOrSet returns the cached value for key, or builds it with fn and caches
// it. The bool reports whether the value came from the cache. Errors from fn
// are returned and nothing is cached.
func (c *LRUCache[K, V]) GetOrSet(key K, fn func() (V, error)) (V, bool, error) {
	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.stats.HitsTotal++
		c.list.MoveToFront(elem)
		c.stats.MoveToFrontTotal++
		c.mu.Unlock()
		return elem.Value.(entry[K, V]).value, true, nil
	}
	c.stats.MissesTotal++
	c.mu.Unlock()

	newv, err := fn()
	if err != nil {
		var zero V
		return zero, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.list.MoveToFront(elem)
		c.stats.MoveToFrontTotal++
		return elem.Value.(entry[K, V]).value, true, nil
	}

	c.insertLocked(key, newv)
	return newv, false, nil
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.stats.HitsTotal++
		c.list.MoveToFront(elem)
		c.stats.MoveToFrontTotal++
		return elem.Value.(entry[K, V]).value, true
	}
	c.stats.MissesTotal++
	var zero V
	return zero, false
}

func (c *LRUCache[K, V]) Set(key K, val V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value = entry[K, V]{key: key, value: val}
		c.list.MoveToFront(elem)
		c.stats.MoveToFrontTotal++
		return val
	}
	c.insertLocked(key, val)
	return val
}

// Remove drops key without calling OnEvict.
func (c *LRUCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(c.cache, key)
	c.list.Remove(elem)
	return elem.Value.(entry[K, V]).value, true
}

func (c *LRUCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		return elem.Value.(entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (c *LRUCache[K, V]) RecentlyUsed() (K, V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entryOf[K, V](c.list.Front())
}

func (c *LRUCache[K, V]) LeastRecentlyUsed() (K, V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return entryOf[K, V](c.list.Back())
}

func (c *LRUCache[K, V]) insertLocked(key K, val V) {
	if c.list.Len() >= c.size {
		if back := c.list.Back(); back != nil {
			evicted := back.Value.(entry[K, V])
			delete(c.cache, evicted.key)
			c.list.Remove(back)
			c.stats.EvictionsTotal++
			if c.onEvict != nil {
				c.onEvict(evicted.key, evicted.value)
			}
		}
	}

	c.cache[key] = c.list.PushFront(entry[K, V]{key: key, value: val})
	c.stats.NewItemsTotal++
}

func entryOf[K comparable, V any](elem *list.Element) (K, V) {
	if elem == nil {
		var zeroK K
		var zeroV V
		return zeroK, zeroV
	}
	e := elem.Value.(entry[K, V])
	return e.key, e.value
}
