// Package cache provides the key/value backends used by the page cache.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-valued key/value store with per-entry expiry.
//
// It can be backed by an in-memory map (Memory) or Redis (Redis).
type Cache interface {
	// Get returns the value stored under key. found is false on a miss or an
	// expired entry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Clear drops every entry held by this cache.
	Clear(ctx context.Context) error
}
