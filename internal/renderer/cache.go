package renderer

import (
	"sync"
	"sync/atomic"
	"time"
)

// CacheStats reports render cache activity.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// renderCache is an LRU of rendered output keyed by input hash.
type renderCache struct {
	entries    map[string]*cacheEntry
	mutex      sync.Mutex
	maxEntries int
	// LRU doubly-linked list with dummy head and tail
	head *cacheEntry
	tail *cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key        string
	value      string
	accessedAt time.Time
	prev       *cacheEntry
	next       *cacheEntry
}

// newRenderCache creates a cache holding at most maxEntries results. A
// non-positive size disables caching.
func newRenderCache(maxEntries int) *renderCache {
	c := &renderCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		head:       &cacheEntry{},
		tail:       &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

func (c *renderCache) Get(key string) (string, bool) {
	if c.maxEntries <= 0 {
		return "", false
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}
	c.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return entry.value, true
}

func (c *renderCache) Set(key, value string) {
	if c.maxEntries <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.accessedAt = time.Now()
		c.moveToFront(existing)
		return
	}

	for len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeFromList(lru)
		delete(c.entries, lru.key)
		atomic.AddInt64(&c.evictions, 1)
	}

	entry := &cacheEntry{key: key, value: value, accessedAt: time.Now()}
	c.entries[key] = entry
	c.addToFront(entry)
}

func (c *renderCache) Stats() CacheStats {
	c.mutex.Lock()
	n := len(c.entries)
	c.mutex.Unlock()

	return CacheStats{
		Entries:   n,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

func (c *renderCache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *renderCache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *renderCache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
