package cache

import (
	"context"
	"sync"
)

// MemProjectionCache is a thread-safe in-memory ProjectionCache, useful for
// tests and for wrappers that don't need snapshotting to survive a restart.
type MemProjectionCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemProjectionCache creates a new in-memory projection cache.
func NewMemProjectionCache() *MemProjectionCache {
	return &MemProjectionCache{
		data: make(map[string][]byte),
	}
}

func (c *MemProjectionCache) Load(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	// Return a copy so callers can't mutate cached bytes in place.
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (c *MemProjectionCache) Store(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	c.data[key] = stored
	return nil
}

// Compile-time interface check.
var _ ProjectionCache = (*MemProjectionCache)(nil)
