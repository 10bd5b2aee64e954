// Package audit provides the append-only decision log. Every configuration
// resolution, date shift, retry transition and reminder decision is recorded
// here; entries are immutable once written.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is a single audit record. Before/After hold JSON snapshots of the
// affected entity around the recorded action.
type Entry struct {
	ID        string          `json:"id"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Store is a queryable audit log.
type Store interface {
	Recorder
	ListByEntity(ctx context.Context, entity, entityID string, limit int) ([]Entry, error)
}

// NewEntry builds an entry with a fresh id and timestamp.
func NewEntry(entity, entityID, action, actor string) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
}

// Snapshot serializes a value for use as a before/after snapshot. Marshal
// errors degrade to null rather than blocking the audited operation.
func Snapshot(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
