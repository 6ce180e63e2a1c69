package tools

import (
	"sync"
	"time"
)

const (
	defaultCacheEntries = 200
	defaultCacheTTL     = 15 * time.Minute
)

type cacheEntry struct {
	hits     []SearchHit
	provider string
	expires  time.Time
}

// webCache is a bounded TTL map. When full, expired entries are dropped
// first and then the entry closest to expiry.
type webCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	max     int
	ttl     time.Duration
	now     func() time.Time
}

func newWebCache(max int, ttl time.Duration) *webCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &webCache{entries: make(map[string]cacheEntry), max: max, ttl: ttl, now: time.Now}
}

func (c *webCache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *webCache) set(key string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e.expires = now.Add(c.ttl)
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		oldest := ""
		for k, v := range c.entries {
			if now.After(v.expires) {
				delete(c.entries, k)
				continue
			}
			if oldest == "" || v.expires.Before(c.entries[oldest].expires) {
				oldest = k
			}
		}
		if len(c.entries) >= c.max && oldest != "" {
			delete(c.entries, oldest)
		}
	}
	c.entries[key] = e
}
