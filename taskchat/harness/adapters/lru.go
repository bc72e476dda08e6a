package adapters

import (
	"sync"
	"time"
)

// LRU is a recency-ordered map with per-entry expiry. Capacity is a soft
// bound: when it is exceeded only expired entries are evicted, so live state
// is never dropped to make room.
// Callers pass the clock explicitly so window arithmetic stays testable.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*lruItem[K, V]
	head     *lruItem[K, V]
	tail     *lruItem[K, V]
}

type lruItem[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
	prev    *lruItem[K, V]
	next    *lruItem[K, V]
}

// NewLRU creates a cache that starts evicting expired entries past capacity.
// A ttl of zero never expires.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*lruItem[K, V]),
	}
}

// Update applies fn to the current value (the zero value when absent or
// expired), stores the result and refreshes its expiry, all under one lock.
func (c *LRU[K, V]) Update(key K, now time.Time, fn func(V, bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current V
	item, ok := c.items[key]
	if ok && c.expired(item, now) {
		c.remove(item)
		ok = false
	}
	if ok {
		current = item.value
	}

	next := fn(current, ok)
	expires := time.Time{}
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}

	if ok {
		item.value = next
		item.expires = expires
		c.moveToFront(item)
		return next
	}

	item = &lruItem[K, V]{key: key, value: next, expires: expires}
	c.addToFront(item)
	c.items[key] = item
	if len(c.items) > c.capacity {
		c.evictExpired(now)
	}
	return next
}

// evictExpired drops expired entries from the least recently used end until
// the cache fits or a live entry is reached. Every write refreshes expiry with
// the same ttl, so recency order is expiry order.
func (c *LRU[K, V]) evictExpired(now time.Time) {
	for len(c.items) > c.capacity && c.tail != nil && c.expired(c.tail, now) {
		c.remove(c.tail)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Prune drops every expired entry and returns how many were removed.
func (c *LRU[K, V]) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for item := c.tail; item != nil; {
		prev := item.prev
		if c.expired(item, now) {
			c.remove(item)
			removed++
		}
		item = prev
	}
	return removed
}

func (c *LRU[K, V]) expired(item *lruItem[K, V], now time.Time) bool {
	return !item.expires.IsZero() && !now.Before(item.expires)
}

func (c *LRU[K, V]) moveToFront(item *lruItem[K, V]) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.addToFront(item)
}

func (c *LRU[K, V]) addToFront(item *lruItem[K, V]) {
	item.next = c.head
	item.prev = nil
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *LRU[K, V]) remove(item *lruItem[K, V]) {
	c.unlink(item)
	delete(c.items, item.key)
}

func (c *LRU[K, V]) unlink(item *lruItem[K, V]) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev = nil
	item.next = nil
}
