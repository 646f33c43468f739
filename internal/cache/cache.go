package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

// WriteStatusCache remembers the state of each write-back intent for a while
// so callers can poll it after an operation returns.
type WriteStatusCache interface {
	Get(ctx context.Context, intentID string) (*domain.WriteStatus, bool, error)
	Set(ctx context.Context, status domain.WriteStatus, ttl time.Duration) error
}

type memoryEntry struct {
	status    domain.WriteStatus
	expiresAt time.Time
}

type MemoryWriteStatusCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryWriteStatusCache() *MemoryWriteStatusCache {
	return &MemoryWriteStatusCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryWriteStatusCache) Get(_ context.Context, intentID string) (*domain.WriteStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[intentID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, intentID)
		return nil, false, nil
	}
	status := entry.status
	return &status, true, nil
}

func (c *MemoryWriteStatusCache) Set(_ context.Context, status domain.WriteStatus, ttl time.Duration) error {
	if status.IntentID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{status: status}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[status.IntentID] = entry
	c.sweep()
	return nil
}

// sweep drops expired entries; callers hold mu.
func (c *MemoryWriteStatusCache) sweep() {
	now := c.now()
	for id, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}
