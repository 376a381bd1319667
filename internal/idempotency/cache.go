package idempotency

import (
	"sync"
	"time"
)

// ttlCache remembers recent positive duplicate verdicts so bursty duplicate
// deliveries skip a store round-trip. It only ever short-circuits positives;
// the durable store stays authoritative for everything else.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	reason  string
	expires time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.reason, true
}

func (c *ttlCache) Set(key, reason string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{reason: reason, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
