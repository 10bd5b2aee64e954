package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduplicator is an in-memory Deduplicator for tests.
type MemoryDeduplicator struct {
	mu        sync.RWMutex
	processed map[string]time.Time
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{processed: make(map[string]time.Time)}
}

func (d *MemoryDeduplicator) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.processed[eventID]
	return ok, nil
}

func (d *MemoryDeduplicator) MarkProcessed(ctx context.Context, eventID, eventType string, processedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[eventID] = processedAt
	return nil
}
