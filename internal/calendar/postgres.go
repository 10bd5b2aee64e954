package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresZoneStore reads holiday zones from PostgreSQL.
type PostgresZoneStore struct {
	conn *sql.DB
}

func NewPostgresZoneStore(conn *sql.DB) *PostgresZoneStore {
	return &PostgresZoneStore{conn: conn}
}

// Schema returns the DDL for the zone tables.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS holiday_zones (
			id UUID PRIMARY KEY,
			organisation_id VARCHAR(255) NOT NULL,
			code VARCHAR(100) NOT NULL,
			country_code VARCHAR(2) NOT NULL,
			region_code VARCHAR(10),
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS holidays (
			id UUID PRIMARY KEY,
			zone_id UUID NOT NULL REFERENCES holiday_zones(id),
			name VARCHAR(255) NOT NULL,
			type VARCHAR(20) NOT NULL,
			holiday_date DATE,
			month INT,
			day INT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			CONSTRAINT valid_holiday_type CHECK (type IN ('FIXED', 'RECURRING'))
		);

		CREATE INDEX IF NOT EXISTS idx_holidays_zone ON holidays(zone_id) WHERE is_active;
	`
}

// GetZone loads an active zone together with its active holiday snapshot.
func (s *PostgresZoneStore) GetZone(ctx context.Context, zoneID string) (*Zone, error) {
	query := `
		SELECT id, organisation_id, code, country_code, COALESCE(region_code, ''), is_active
		FROM holiday_zones
		WHERE id = $1 AND is_active`

	var zone Zone
	err := s.conn.QueryRowContext(ctx, query, zoneID).Scan(
		&zone.ID, &zone.OrganisationID, &zone.Code, &zone.CountryCode, &zone.RegionCode, &zone.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, ErrZoneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holiday zone: %w", err)
	}

	holidayQuery := `
		SELECT id, zone_id, name, type, COALESCE(holiday_date, '0001-01-01'), COALESCE(month, 0), COALESCE(day, 0), is_active
		FROM holidays
		WHERE zone_id = $1 AND is_active`

	rows, err := s.conn.QueryContext(ctx, holidayQuery, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holidays: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Holiday
		var date time.Time
		if err := rows.Scan(&h.ID, &h.ZoneID, &h.Name, &h.Type, &date, &h.Month, &h.Day, &h.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date = date
		zone.Holidays = append(zone.Holidays, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &zone, nil
}

// SaveZone upserts a zone and replaces its holiday set. Used by seeding.
func (s *PostgresZoneStore) SaveZone(ctx context.Context, zone *Zone) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO holiday_zones (id, organisation_id, code, country_code, region_code, is_active)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			country_code = EXCLUDED.country_code,
			region_code = EXCLUDED.region_code,
			is_active = EXCLUDED.is_active`,
		zone.ID, zone.OrganisationID, zone.Code, zone.CountryCode, zone.RegionCode, zone.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM holidays WHERE zone_id = $1`, zone.ID); err != nil {
		return fmt.Errorf("failed to clear holidays: %w", err)
	}

	for _, h := range zone.Holidays {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO holidays (id, zone_id, name, type, holiday_date, month, day, is_active)
			VALUES ($1, $2, $3, $4, NULLIF($5, '0001-01-01')::date, NULLIF($6, 0), NULLIF($7, 0), $8)`,
			h.ID, zone.ID, h.Name, h.Type, h.Date.Format("2006-01-02"), h.Month, h.Day, h.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to insert holiday %s: %w", h.Name, err)
		}
	}

	return tx.Commit()
}
