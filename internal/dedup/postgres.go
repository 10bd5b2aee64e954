package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresDeduplicator stores processed event ids in a table with a unique
// constraint. The constraint, not application logic, is the correctness
// guarantee under concurrent consumers.
type PostgresDeduplicator struct {
	conn *sql.DB
}

func NewPostgresDeduplicator(conn *sql.DB) *PostgresDeduplicator {
	return &PostgresDeduplicator{conn: conn}
}

// Schema returns the DDL for the processed-events table.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id VARCHAR(255) PRIMARY KEY,
			event_type VARCHAR(100) NOT NULL,
			processed_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`
}

func (d *PostgresDeduplicator) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := d.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

func (d *PostgresDeduplicator) MarkProcessed(ctx context.Context, eventID, eventType string, processedAt time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType, processedAt)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// PruneBefore removes processed-event rows older than the cutoff. Run
// periodically; the retention window only needs to exceed the broker's
// maximum redelivery horizon.
func (d *PostgresDeduplicator) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := d.conn.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
