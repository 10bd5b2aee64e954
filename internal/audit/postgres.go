package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists audit entries in an append-only table.
type PostgresStore struct {
	conn *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Schema returns the DDL for the audit table.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			entity VARCHAR(100) NOT NULL,
			entity_id VARCHAR(255) NOT NULL,
			action VARCHAR(100) NOT NULL,
			actor VARCHAR(255) NOT NULL,
			before_state JSONB,
			after_state JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity, entity_id, created_at);
	`
}

func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO audit_log (id, entity, entity_id, action, actor, before_state, after_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn.ExecContext(ctx, query,
		entry.ID, entry.Entity, entry.EntityID, entry.Action, entry.Actor,
		nullableJSON(entry.Before), nullableJSON(entry.After), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entity, entityID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, entity, entity_id, action, actor,
			   COALESCE(before_state, 'null'), COALESCE(after_state, 'null'), created_at
		FROM audit_log
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.conn.QueryContext(ctx, query, entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(&e.ID, &e.Entity, &e.EntityID, &e.Action, &e.Actor, &e.Before, &e.After, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
