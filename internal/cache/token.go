package cache

import (
	"sync"
	"time"

	"github.com/bgutil/potprovider/internal/model"
)

// TokenCache stores minted session tokens keyed by content binding.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]model.SessionToken
}

// NewTokenCache constructs an empty TokenCache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]model.SessionToken)}
}

// Get returns a copy of the token for contentBinding, if present.
func (c *TokenCache) Get(contentBinding string) (model.SessionToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[contentBinding]
	return t, ok
}

// Put stores tok under contentBinding.
func (c *TokenCache) Put(contentBinding string, tok model.SessionToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[contentBinding] = tok
}

// Cleanup drops entries whose expiry has passed.
func (c *TokenCache) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range c.tokens {
		if t.Expired(now) {
			delete(c.tokens, k)
		}
	}
}

// InvalidateAll clears every entry.
func (c *TokenCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]model.SessionToken)
}

// Export returns a snapshot of all entries, for the CLI file cache.
func (c *TokenCache) Export() map[string]model.SessionToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.SessionToken, len(c.tokens))
	for k, v := range c.tokens {
		out[k] = v
	}
	return out
}

// Import merges entries into the cache, for the CLI file cache.
func (c *TokenCache) Import(entries map[string]model.SessionToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.tokens[k] = v
	}
}
