package debitdate

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresConfigStore reads debit configurations from PostgreSQL. One active
// record per level per scope is expected; the most recently updated wins if
// the constraint is ever violated.
type PostgresConfigStore struct {
	conn *sql.DB
}

func NewPostgresConfigStore(conn *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{conn: conn}
}

// Schema returns the DDL for the configuration table.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS debit_configurations (
			id UUID PRIMARY KEY,
			organisation_id VARCHAR(255) NOT NULL,
			company_id VARCHAR(255),
			client_id VARCHAR(255),
			contract_id VARCHAR(255),
			mode VARCHAR(20) NOT NULL,
			batch VARCHAR(5),
			fixed_day INT,
			shift_strategy VARCHAR(30) NOT NULL,
			holiday_zone_id UUID NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT valid_mode CHECK (mode IN ('BATCH', 'FIXED_DAY'))
		);

		CREATE INDEX IF NOT EXISTS idx_debit_configurations_org ON debit_configurations(organisation_id) WHERE is_active;
	`
}

const configColumns = `
	id, organisation_id, COALESCE(company_id, ''), COALESCE(client_id, ''), COALESCE(contract_id, ''),
	mode, COALESCE(batch, ''), COALESCE(fixed_day, 0), shift_strategy, holiday_zone_id, is_active`

func (s *PostgresConfigStore) FindContractConfig(ctx context.Context, orgID, contractID string) (*Config, error) {
	return s.findOne(ctx, `
		SELECT `+configColumns+`
		FROM debit_configurations
		WHERE organisation_id = $1 AND contract_id = $2 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, orgID, contractID)
}

func (s *PostgresConfigStore) FindCompanyConfig(ctx context.Context, orgID, companyID string) (*Config, error) {
	return s.findOne(ctx, `
		SELECT `+configColumns+`
		FROM debit_configurations
		WHERE organisation_id = $1 AND company_id = $2 AND contract_id IS NULL AND client_id IS NULL AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, orgID, companyID)
}

func (s *PostgresConfigStore) FindClientConfig(ctx context.Context, orgID, clientID string) (*Config, error) {
	return s.findOne(ctx, `
		SELECT `+configColumns+`
		FROM debit_configurations
		WHERE organisation_id = $1 AND client_id = $2 AND contract_id IS NULL AND company_id IS NULL AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, orgID, clientID)
}

func (s *PostgresConfigStore) FindSystemDefault(ctx context.Context, orgID string) (*Config, error) {
	return s.findOne(ctx, `
		SELECT `+configColumns+`
		FROM debit_configurations
		WHERE organisation_id = $1 AND company_id IS NULL AND client_id IS NULL AND contract_id IS NULL AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, orgID)
}

func (s *PostgresConfigStore) SaveConfig(ctx context.Context, cfg *Config) error {
	query := `
		INSERT INTO debit_configurations (
			id, organisation_id, company_id, client_id, contract_id,
			mode, batch, fixed_day, shift_strategy, holiday_zone_id, is_active, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, 0), $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			batch = EXCLUDED.batch,
			fixed_day = EXCLUDED.fixed_day,
			shift_strategy = EXCLUDED.shift_strategy,
			holiday_zone_id = EXCLUDED.holiday_zone_id,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()`

	_, err := s.conn.ExecContext(ctx, query,
		cfg.ID, cfg.OrganisationID, cfg.CompanyID, cfg.ClientID, cfg.ContractID,
		cfg.Mode, cfg.Batch, cfg.FixedDay, cfg.ShiftStrategy, cfg.HolidayZoneID, cfg.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save debit configuration: %w", err)
	}
	return nil
}

func (s *PostgresConfigStore) findOne(ctx context.Context, query string, args ...interface{}) (*Config, error) {
	var cfg Config
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(
		&cfg.ID, &cfg.OrganisationID, &cfg.CompanyID, &cfg.ClientID, &cfg.ContractID,
		&cfg.Mode, &cfg.Batch, &cfg.FixedDay, &cfg.ShiftStrategy, &cfg.HolidayZoneID, &cfg.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query debit configuration: %w", err)
	}
	return &cfg, nil
}
