package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// MemoryCache stores library command results keyed by command text.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]domain.CacheEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryCache returns a cache holding at most maxEntries results for ttl.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = domain.DefaultMaxCacheEntries
	}
	return &MemoryCache{
		entries:    make(map[string]domain.CacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get retrieves a live cache entry. Expired entries are dropped on access.
func (c *MemoryCache) Get(key string) (domain.CacheEntry, bool) {
	if key == "" {
		return domain.CacheEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return domain.CacheEntry{}, false
	}
	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Set stores a cache entry, stamping CreatedAt when unset.
func (c *MemoryCache) Set(entry domain.CacheEntry) {
	if entry.Key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	c.entries[entry.Key] = entry
	c.evictIfNeeded()
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all cached entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]domain.CacheEntry)
	c.mu.Unlock()
}

// evictIfNeeded drops the oldest tenth of the entries once the cache is full.
func (c *MemoryCache) evictIfNeeded() {
	if len(c.entries) <= c.maxEntries {
		return
	}
	infos := make([]domain.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		infos = append(infos, e)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })

	drop := c.maxEntries / 10
	if drop < 1 {
		drop = 1
	}
	if excess := len(infos) - c.maxEntries; excess > drop {
		drop = excess
	}
	for _, old := range infos[:drop] {
		delete(c.entries, old.Key)
	}
}

var _ ports.CacheRepository = (*MemoryCache)(nil)
