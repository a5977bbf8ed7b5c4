package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a size-bounded cache whose entries also expire after a TTL.
// Identity uses it for revoked session ids and one-shot OAuth states.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	items   map[string]*list.Element
	lru     *list.List
}

type entry[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with a default TTL applied by Set.
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Get retrieves a live value and marks it most recently used.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.lookup(key)
	if !ok {
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*entry[T]).data, true
}

// Take retrieves a live value and removes it in the same step.
func (c *LRUCache[T]) Take(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, ok := c.lookup(key)
	if !ok {
		return zero, false
	}
	data := elem.Value.(*entry[T]).data
	c.removeElement(elem)
	return data, true
}

// Set stores a value with the cache's default TTL.
func (c *LRUCache[T]) Set(key string, data T) {
	c.SetWithTTL(key, data, c.ttl)
}

// SetWithTTL stores a value that expires after ttl.
func (c *LRUCache[T]) SetWithTTL(key string, data T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &entry[T]{key: key, data: data, expiresAt: c.now().Add(ttl)}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return
	}

	c.items[key] = c.lru.PushFront(item)

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

// lookup returns the element for key, dropping it if expired. Caller holds mu.
func (c *LRUCache[T]) lookup(key string) (*list.Element, bool) {
	elem, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if c.now().After(elem.Value.(*entry[T]).expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	return elem, true
}

func (c *LRUCache[T]) removeElement(elem *list.Element) {
	delete(c.items, elem.Value.(*entry[T]).key)
	c.lru.Remove(elem)
}

// CleanExpired removes all expired entries and returns how many were dropped
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*entry[T]).expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Size returns the current number of items in the cache, expired ones included
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
