// Package ristretto implements the cache port using dgraph-io/ristretto as L1 in-process cache.
package ristretto

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache of strings. Every entry costs 1, so maxItems
// bounds the number of entries.
type Cache struct {
	c *ristretto.Cache[string, string]
}

// New creates a ristretto-backed cache holding at most maxItems entries.
func New(maxItems int64) (*Cache, error) {
	if maxItems < 1 {
		return nil, fmt.Errorf("ristretto: max items must be >= 1, got %d", maxItems)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxItems * 10, // ~10x expected items
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (string, bool) {
	return c.c.Get(key)
}

// Set stores a value with the given TTL. A zero TTL never expires.
// The write is applied asynchronously; call Wait to observe it immediately.
func (c *Cache) Set(key, value string, ttl time.Duration) {
	c.c.SetWithTTL(key, value, 1, ttl)
}

// Delete removes a value from the cache.
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Wait blocks until pending writes are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
