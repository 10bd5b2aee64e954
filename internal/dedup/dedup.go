// Package dedup guards event processing against broker redeliveries. Every
// inbound event id is checked before handling and recorded only after the
// handler succeeds, so a crash mid-handling leads to a reprocess, never a
// silent drop.
package dedup

import (
	"context"
	"time"
)

// Deduplicator answers whether an event was already fully processed and
// records completion.
type Deduplicator interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, processedAt time.Time) error
}
