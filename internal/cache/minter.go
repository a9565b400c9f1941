// Package cache implements C3 (minter cache) and C4 (token cache): two
// RWMutex-guarded maps, each keyed and evicted according to the spec's
// expiry rules.
package cache

import (
	"sync"
	"time"

	"github.com/bgutil/potprovider/internal/model"
)

// MinterCache stores integrity-token minter entries keyed by derived
// network-identity.
type MinterCache struct {
	mu      sync.RWMutex
	entries map[string]model.MinterEntry
}

// NewMinterCache constructs an empty MinterCache.
func NewMinterCache() *MinterCache {
	return &MinterCache{entries: make(map[string]model.MinterEntry)}
}

// Get returns a copy of the entry for key, if present.
func (c *MinterCache) Get(key string) (model.MinterEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores entry under key, overwriting any existing value.
func (c *MinterCache) Put(key string, entry model.MinterEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// InvalidateAll clears every entry.
func (c *MinterCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]model.MinterEntry)
}

// InvalidateIntegrity sets every entry's expiry to the epoch origin so
// subsequent reads treat them as expired, while keys remain visible to
// diagnostics.
func (c *MinterCache) InvalidateIntegrity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		e.Expiry = time.Unix(0, 0).UTC()
		c.entries[k] = e
	}
}

// Keys lists current keys, for the /minter_cache diagnostic endpoint.
func (c *MinterCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
