package pairing

import (
	"sync"
	"time"

	"github.com/sommos/sommos/internal/domain"
)

// cacheEntry wraps a cached recommendation with expiry and access tracking
type cacheEntry struct {
	value    *domain.PairingRecommendation
	expires  time.Time
	accessed time.Time
}

// Cache is the bounded in-process TTL cache keyed by fingerprint.
// Eviction is approximate LRU: when full, the stalest entry by last
// access goes first. A background sweep drops expired entries so the map
// does not accumulate dead weight between lookups.
type Cache struct {
	entries    map[string]*cacheEntry
	stopCh     chan struct{}
	maxEntries int
	ttl        time.Duration
	mu         sync.Mutex
	stopOnce   sync.Once
}

// NewCache creates a cache with the given capacity and entry TTL and
// starts its sweep loop.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		stopCh:     make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached recommendation for a fingerprint, if fresh
func (c *Cache) Get(fingerprint string) (*domain.PairingRecommendation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, fingerprint)
		return nil, false
	}
	entry.accessed = time.Now()
	return entry.value, true
}

// Set stores a recommendation under its fingerprint
func (c *Cache) Set(fingerprint string, rec *domain.PairingRecommendation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	now := time.Now()
	c.entries[fingerprint] = &cacheEntry{
		value:    rec,
		expires:  now.Add(c.ttl),
		accessed: now,
	}
}

// Len returns the current entry count
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the sweep loop
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently accessed entry. Caller holds the lock.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = entry.accessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expires) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
