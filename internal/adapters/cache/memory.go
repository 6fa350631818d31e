// Package cache provides in-process caching of project configuration
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"handoff-engine/internal/core/domain"
	"handoff-engine/internal/core/ports"
)

var _ ports.ConfigCache = (*Memory)(nil)

// Loader fetches the authoritative project configuration
type Loader interface {
	GetProjectConfig(ctx context.Context, projectID string) (*domain.ProjectConfig, error)
}

type entry struct {
	cfg      *domain.ProjectConfig
	loadedAt time.Time
	element  *list.Element
}

// Memory is a thread-safe, TTL-based, size-limited read-through cache.
// Entries are evicted oldest-first once maxSize is reached.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	loader  Loader
	now     func() time.Time
}

// NewMemory creates an in-process config cache
func NewMemory(loader Loader, ttl time.Duration, maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Memory{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		loader:  loader,
		now:     time.Now,
	}
}

// Get returns a cached config younger than the TTL, loading it otherwise.
// Load errors are not cached.
func (c *Memory) Get(ctx context.Context, projectID string) (*domain.ProjectConfig, error) {
	c.mu.Lock()
	if e, ok := c.entries[projectID]; ok && c.now().Sub(e.loadedAt) < c.ttl {
		cfg := e.cfg
		c.mu.Unlock()
		return cfg, nil
	}
	c.mu.Unlock()

	cfg, err := c.loader.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(projectID, cfg)
	return cfg, nil
}

// Invalidate drops the cached entry so the next Get reloads it
func (c *Memory) Invalidate(_ context.Context, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[projectID]; ok {
		c.order.Remove(e.element)
		delete(c.entries, projectID)
	}
	return nil
}

// Len returns the number of cached entries (expired ones included)
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// storeLocked must be called with mu held
func (c *Memory) storeLocked(projectID string, cfg *domain.ProjectConfig) {
	if e, ok := c.entries[projectID]; ok {
		e.cfg = cfg
		e.loadedAt = c.now()
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			key, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, key)
		}
	}

	c.entries[projectID] = &entry{
		cfg:      cfg,
		loadedAt: c.now(),
		element:  c.order.PushBack(projectID),
	}
}
