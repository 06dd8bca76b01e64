// Package cache holds discovery snapshots: the community list and recent
// post counts that the ranker reads.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gator-clubs/internal/models"
)

type Snapshot struct {
	Communities   []*models.Community `json:"communities"`
	PostsInWindow map[uuid.UUID]int   `json:"postsInWindow"`
	TakenAt       time.Time           `json:"takenAt"`
}

type SnapshotCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context) (*Snapshot, error)
	Set(ctx context.Context, s *Snapshot) error
	Invalidate(ctx context.Context) error
	Close() error
}

// MemoryCache is the in-process fallback used when no Redis address is
// configured.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	current *Snapshot
	expires time.Time
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || !c.now().Before(c.expires) {
		return nil, nil
	}
	return c.current, nil
}

func (c *MemoryCache) Set(ctx context.Context, s *Snapshot) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
	c.expires = c.now().Add(c.ttl)
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	return nil
}

func (c *MemoryCache) Close() error { return nil }
