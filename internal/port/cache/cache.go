// Package cache defines the port interface for in-process lookups that are
// expensive to recompute, such as workspace-root discovery.
package cache

import "time"

// Cache is the port interface for string key-value caching.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
}
