package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
)

// LRU is a size-bounded cache with per-entry expiry.
type LRU struct {
	capacity   int
	defaultTTL time.Duration
	clock      clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front is most recently used
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// NewLRU creates an LRU. Non-positive capacity or ttl fall back to 1000
// entries and five minutes.
func NewLRU(capacity int, defaultTTL time.Duration, c clock.Clock) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if c == nil {
		c = clock.New()
	}
	return &LRU{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		clock:      c,
		entries:    make(map[string]*entry),
		order:      list.New(),
	}
}

func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.remove(e)
		return nil, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

func (c *LRU) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Invalidate removes key, or every key with the prefix before a trailing "*".
// It returns the number of removed entries.
func (c *LRU) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(pattern, "*") {
		if e, ok := c.entries[pattern]; ok {
			c.remove(e)
			return 1
		}
		return 0
	}

	prefix := strings.TrimSuffix(pattern, "*")
	count := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(e)
			count++
		}
	}
	return count
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RemoveExpired drops every expired entry and returns how many were dropped.
func (c *LRU) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var expired []*entry
	for _, e := range c.entries {
		if !now.Before(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.remove(e)
	}
	return len(expired)
}

// Must be called with mu held.
func (c *LRU) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.remove(oldest.Value.(*entry))
}

// Must be called with mu held.
func (c *LRU) remove(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
