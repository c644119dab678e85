package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Casys-AI/mcp-server/mcp"
)

// DefaultCacheTTL is the cache entry lifetime applied when a token's
// remaining lifetime (exp - now) exceeds it.
const DefaultCacheTTL = 300 * time.Second

// MaxCacheSize is the maximum number of entries the token cache holds
// before it evicts the oldest insertion to make room.
const MaxCacheSize = 1000

// TokenCacheKey computes the cache key for a raw bearer token: lowercase
// hex SHA-256. The raw token itself is never stored.
func TokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	info      *mcp.AuthInfo
	expiresAt time.Time
}

// tokenCache is a bounded, TTL-capped cache of verified AuthInfo, keyed by
// TokenCacheKey. Eviction when full is FIFO by insertion order.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	maxSize int
}

func newTokenCache(maxSize int) *tokenCache {
	if maxSize <= 0 {
		maxSize = MaxCacheSize
	}
	return &tokenCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
	}
}

func (c *tokenCache) get(key string) (*mcp.AuthInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.removeFromOrderLocked(key)
		return nil, false
	}
	return entry.info, true
}

func (c *tokenCache) put(key string, info *mcp.AuthInfo, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{info: info, expiresAt: time.Now().Add(ttl)}
}

func (c *tokenCache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return
		}
	}
}

func (c *tokenCache) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// size reports the number of live entries, for tests.
func (c *tokenCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheTTL computes min(exp*1000-now, DefaultCacheTTL) in duration terms,
// per spec.md §4.D step 6. A non-positive result means "do not cache".
func cacheTTL(expiresAtUnixSeconds int64) time.Duration {
	if expiresAtUnixSeconds == 0 {
		return DefaultCacheTTL
	}
	remaining := time.Until(time.Unix(expiresAtUnixSeconds, 0))
	if remaining <= 0 {
		return 0
	}
	if remaining > DefaultCacheTTL {
		return DefaultCacheTTL
	}
	return remaining
}
