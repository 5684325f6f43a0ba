// Package cache holds the per-tenant rule snapshots, webhook de-duplication
// marks and contact-budget counters. Single-instance deployments use the
// in-process LRU; clustered ones put Redis behind it.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// LRUCache is a bounded in-process cache. Values expire by TTL and the
// least recently read entry is evicted once capacity is reached. Counters
// live in a separate map so a burst of webhook marks cannot evict rule
// snapshots.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	recency  *list.List
	counters map[string]*counterEntry
	now      func() time.Time
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most capacity values. Zero or less
// means 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		counters: make(map[string]*counterEntry),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (c *LRUCache) WithClock(now func() time.Time) *LRUCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the tenant's value for key, or nil on a miss. Expired values
// are dropped on read.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	fullKey := tenantKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value for ttl and evicts from the cold end past capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := tenantKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if elem, ok := c.entries[fullKey]; ok {
		c.recency.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.recency.PushFront(&lruEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})
	c.entries[fullKey] = elem

	for c.recency.Len() > c.capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.evict(oldest)
		}
	}

	return nil
}

// Delete drops the value and the counter of the same name, which lets a
// webhook whose processing failed be delivered again.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	delete(c.counters, tenantKey(tenantID, "counter:"+key))
	return nil
}

// IncrementCounter bumps a fixed-window counter. The window opens at the
// first increment and is not extended by later ones.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := tenantKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.counters[fullKey]
	if !ok || now.After(entry.expiresAt) {
		c.counters[fullKey] = &counterEntry{count: 1, expiresAt: now.Add(window)}
		c.sweepCounters(now)
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// DecrementCounter takes back one increment. A counter that reaches zero is
// dropped so the next increment opens a new window.
func (c *LRUCache) DecrementCounter(ctx context.Context, tenantID string, key string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := tenantKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.counters[fullKey]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.counters, fullKey)
		return 0, nil
	}

	entry.count--
	if entry.count <= 0 {
		delete(c.counters, fullKey)
		return 0, nil
	}
	return entry.count, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every value and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats reports the number of values held and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.capacity
}

func (c *LRUCache) evict(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}

// sweepCounters drops expired counters once there are more than capacity.
func (c *LRUCache) sweepCounters(now time.Time) {
	if len(c.counters) <= c.capacity {
		return
	}
	for k, e := range c.counters {
		if now.After(e.expiresAt) {
			delete(c.counters, k)
		}
	}
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}
