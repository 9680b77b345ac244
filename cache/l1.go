package cache

import (
	"container/list"
	"sync"
	"time"
)

type l1Item struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// L1 is the in-process tier: a bounded LRU with per-entry expiry and hit/miss
// counters. The single mutex covers the full lookup + move-to-front + eviction
// read-modify-write.
type L1 struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxEntries int

	hits   int64
	misses int64
}

func NewL1(maxEntries int) *L1 {
	return &L1{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *L1) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	item := elem.Value.(*l1Item)
	if time.Now().After(item.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return item.value, true
}

func (c *L1) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		item := elem.Value.(*l1Item)
		item.value = value
		item.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.maxEntries {
		c.evictLocked()
	}

	elem := c.order.PushFront(&l1Item{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem
}

func (c *L1) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *L1) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Cleanup drops expired entries and returns how many were removed.
func (c *L1) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, elem := range c.items {
		if now.After(elem.Value.(*l1Item).expiresAt) {
			c.order.Remove(elem)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *L1) Stats() (size int, hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.hits, c.misses
}

func (c *L1) removeLocked(key string) {
	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

func (c *L1) evictLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	item := back.Value.(*l1Item)
	c.order.Remove(back)
	delete(c.items, item.key)
}
