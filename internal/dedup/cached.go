package dedup

import (
	"context"
	"log"
	"time"

	"github.com/finova/collection-engine/internal/cache"
)

// CachedDeduplicator fronts another Deduplicator with a Redis key per event
// id. Redis answers the common duplicate check without a database round trip;
// the backing store stays authoritative, so a cold or flushed cache only
// costs extra lookups.
type CachedDeduplicator struct {
	next   Deduplicator
	cache  *cache.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedDeduplicator(next Deduplicator, c *cache.Client, ttl time.Duration, logger *log.Logger) *CachedDeduplicator {
	if logger == nil {
		logger = log.Default()
	}
	return &CachedDeduplicator{next: next, cache: c, ttl: ttl, logger: logger}
}

func (d *CachedDeduplicator) key(eventID string) string {
	return "dedup:event:" + eventID
}

func (d *CachedDeduplicator) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if d.cache != nil {
		hit, err := d.cache.Exists(ctx, d.key(eventID))
		if err != nil {
			d.logger.Printf("Dedup cache lookup failed for %s, falling back to store: %v", eventID, err)
		} else if hit {
			return true, nil
		}
	}
	return d.next.AlreadyProcessed(ctx, eventID)
}

func (d *CachedDeduplicator) MarkProcessed(ctx context.Context, eventID, eventType string, processedAt time.Time) error {
	if err := d.next.MarkProcessed(ctx, eventID, eventType, processedAt); err != nil {
		return err
	}
	if d.cache != nil {
		if err := d.cache.SetString(ctx, d.key(eventID), eventType, d.ttl); err != nil {
			d.logger.Printf("Failed to cache processed event %s: %v", eventID, err)
		}
	}
	return nil
}
