package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type pageEntry struct {
	html      string
	createdAt time.Time
}

// PageCache keeps rendered pages for a short time so studies sharing a
// search URL within one run hit the provider once. Safe for concurrent use.
type PageCache struct {
	mu         sync.RWMutex
	store      map[string]*pageEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewPageCache(ttl time.Duration, maxEntries int) *PageCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &PageCache{
		store:      make(map[string]*pageEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func cacheKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

func (c *PageCache) Get(url string) (string, bool) {
	c.mu.RLock()
	e, ok := c.store[cacheKey(url)]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.createdAt) > c.ttl {
		return "", false
	}
	return e.html, true
}

func (c *PageCache) Set(url, html string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.store) >= c.maxEntries {
		c.evictLocked()
	}

	c.store[cacheKey(url)] = &pageEntry{
		html:      html,
		createdAt: c.now(),
	}
}

// evictLocked drops expired entries, or one arbitrary entry if none expired.
func (c *PageCache) evictLocked() {
	cutoff := c.now().Add(-c.ttl)
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	if len(c.store) < c.maxEntries {
		return
	}
	for k := range c.store {
		delete(c.store, k)
		break
	}
}

func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
