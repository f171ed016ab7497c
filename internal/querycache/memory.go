package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/datachat/datachat/internal/executor"
)

// MemoryCache is the single-process backend used when no Redis URL is
// configured. Expired entries are dropped lazily on read and periodically by
// Sweep.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	result    executor.Result
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]memoryEntry{},
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (executor.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return executor.Result{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return executor.Result{}, false, nil
	}
	return entry.result, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, result executor.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{result: result, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Sweep evicts expired entries at the given interval until ctx is done.
func (c *MemoryCache) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now()
	for key, entry := range c.entries {
		if cutoff.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
