package tokens

import (
	"sync"
	"time"

	"github.com/syntrixbase/docsync/pkg/model"
)

// memCache keeps decoded tokens in front of the persisted store so hot
// partitions skip decryption. Entries expire with the token itself.
type memCache struct {
	size    int
	mu      sync.RWMutex
	entries map[string]*model.TokenResult
}

func newMemCache(size int) *memCache {
	if size <= 0 {
		size = 64
	}
	return &memCache{
		size:    size,
		entries: make(map[string]*model.TokenResult),
	}
}

func (c *memCache) get(key string, now time.Time) *model.TokenResult {
	c.mu.RLock()
	token, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if token.IsExpired(now) {
		c.remove(key)
		return nil
	}
	return token
}

func (c *memCache) put(key string, token *model.TokenResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = token
	c.evictIfNeeded(now)
}

func (c *memCache) remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]*model.TokenResult)
	c.mu.Unlock()
}

// caller must hold write lock
func (c *memCache) evictIfNeeded(now time.Time) {
	for key, token := range c.entries {
		if token.IsExpired(now) {
			delete(c.entries, key)
		}
	}
	// Evict the entry closest to expiry until within bounds.
	for len(c.entries) > c.size {
		var victim string
		var soonest time.Time
		for key, token := range c.entries {
			if victim == "" || token.ExpiresOn.Before(soonest) {
				victim, soonest = key, token.ExpiresOn.Time
			}
		}
		delete(c.entries, victim)
	}
}
