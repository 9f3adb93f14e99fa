package subscriber

import (
	"context"
	"sync"
)

// Cache is a process-wide snapshot of the subscriber registry. Readers take
// the snapshot once per emission so a concurrent registry change cannot split
// one fan-out across two configurations. Invalidate after any write.
type Cache struct {
	repo Repository

	mu       sync.RWMutex
	snapshot []Subscriber
	loaded   bool
}

func NewCache(repo Repository) *Cache {
	return &Cache{repo: repo}
}

// Snapshot returns the cached subscriber list, loading it on first use.
func (c *Cache) Snapshot(ctx context.Context) ([]Subscriber, error) {
	c.mu.RLock()
	if c.loaded {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.snapshot, nil
	}
	subs, err := c.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot = subs
	c.loaded = true
	return subs, nil
}

// Matching returns the enabled subscribers interested in (entity, op).
func (c *Cache) Matching(ctx context.Context, entity, op string) ([]Subscriber, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []Subscriber
	for i := range snap {
		if snap[i].Wants(entity, op) {
			out = append(out, snap[i])
		}
	}
	return out, nil
}

// Invalidate drops the snapshot; the next read reloads from the repository.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.loaded = false
	c.mu.Unlock()
}
