package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tour-agent/backend/internal/storage/models"
)

// QueryCache stores computed query responses keyed by normalized query hash.
// A hit requires the entry to be unexpired and tagged with the current index
// version; stale entries are simply skipped, never eagerly evicted.
type QueryCache interface {
	Get(ctx context.Context, key string, indexVersion uint64) (*models.QueryResponse, bool)
	Set(ctx context.Context, key string, resp *models.QueryResponse)
}

type memoryEntry struct {
	resp      *models.QueryResponse
	createdAt time.Time
}

// MemoryCache publishes its whole map behind an atomic pointer: reads load the
// current snapshot without locking, writes copy-and-swap under a mutex.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries atomic.Pointer[map[string]memoryEntry]
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{ttl: ttl, now: time.Now}
	empty := make(map[string]memoryEntry)
	c.entries.Store(&empty)
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string, indexVersion uint64) (*models.QueryResponse, bool) {
	entries := *c.entries.Load()
	e, ok := entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}
	if e.resp.IndexVersion != indexVersion {
		return nil, false
	}
	return e.resp, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, resp *models.QueryResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	old := *c.entries.Load()
	next := make(map[string]memoryEntry, len(old)+1)
	for k, e := range old {
		if now.Sub(e.createdAt) > c.ttl {
			continue
		}
		next[k] = e
	}
	next[key] = memoryEntry{resp: resp, createdAt: now}
	c.entries.Store(&next)
}
