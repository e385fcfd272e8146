package catalog

import (
	"sync"
	"time"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/models"
)

// modelCache is a process-local read-through cache over model records. It
// may serve entries up to one TTL stale after a write on another instance;
// a TTL of zero disables caching entirely.
type modelCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	record  *models.ModelRecord
	iface   *dtdl.Interface
	expires time.Time
}

func newModelCache(ttl time.Duration) *modelCache {
	return &modelCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *modelCache) get(id string) (*models.ModelRecord, *dtdl.Interface, bool) {
	if c.ttl <= 0 {
		return nil, nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok || time.Now().After(entry.expires) {
		return nil, nil, false
	}
	return entry.record, entry.iface, true
}

func (c *modelCache) put(id string, record *models.ModelRecord, iface *dtdl.Interface) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cacheEntry{
		record:  record,
		iface:   iface,
		expires: time.Now().Add(c.ttl),
	}
}

func (c *modelCache) invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

func (c *modelCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
