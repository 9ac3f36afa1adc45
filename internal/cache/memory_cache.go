package cache

import (
	"context"
	"sync"
)

// MemoryCache is the process-lifetime fallback used when Redis is not
// configured. Markers vanish on restart, which matches the documented
// at-least-once behavior of the sheet-only design.
type MemoryCache struct {
	mu   sync.Mutex
	sent map[string]struct{}
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{sent: make(map[string]struct{})}
}

func (c *MemoryCache) MarkSent(_ context.Context, rowIndex int, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[sentKey(rowIndex, date)] = struct{}{}
	return nil
}

func (c *MemoryCache) WasSent(_ context.Context, rowIndex int, date string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sent[sentKey(rowIndex, date)]
	return ok, nil
}
