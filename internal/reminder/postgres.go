package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements PolicyStore and Store on PostgreSQL. Policy rules
// are stored as a JSONB document since they are always read as a unit.
type PostgresStore struct {
	conn *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Schema returns the DDL for the reminder tables.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS reminder_policies (
			id UUID PRIMARY KEY,
			organisation_id VARCHAR(255) NOT NULL,
			societe_id VARCHAR(255),
			product_id VARCHAR(255),
			name VARCHAR(255) NOT NULL,
			rules JSONB NOT NULL DEFAULT '[]',
			cooldown_hours INT NOT NULL DEFAULT 0,
			max_reminders_per_day INT NOT NULL DEFAULT 0,
			max_reminders_per_week INT NOT NULL DEFAULT 0,
			allowed_start_hour INT NOT NULL DEFAULT 0,
			allowed_end_hour INT NOT NULL DEFAULT 0,
			allowed_days_of_week INT[] NOT NULL DEFAULT '{}',
			respect_opt_out BOOLEAN NOT NULL DEFAULT TRUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_reminder_policies_org ON reminder_policies(organisation_id) WHERE is_active;

		CREATE TABLE IF NOT EXISTS reminders (
			id UUID PRIMARY KEY,
			policy_id UUID NOT NULL REFERENCES reminder_policies(id),
			schedule_id UUID NOT NULL,
			organisation_id VARCHAR(255) NOT NULL,
			client_id VARCHAR(255),
			channel VARCHAR(50) NOT NULL,
			template_id VARCHAR(255) NOT NULL,
			rule_order INT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			provider_message_id VARCHAR(255),
			error_code VARCHAR(100),
			scheduled_at TIMESTAMP NOT NULL,
			sent_at TIMESTAMP,
			claimed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT valid_reminder_status CHECK (status IN ('PENDING', 'SENDING', 'SENT', 'DELIVERED', 'BOUNCED', 'OPENED', 'CLICKED', 'FAILED'))
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_schedule ON reminders(schedule_id);
		CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(scheduled_at) WHERE status = 'PENDING';
	`
}

const reminderPolicyColumns = `
	id, organisation_id, COALESCE(societe_id, ''), COALESCE(product_id, ''), name, rules,
	cooldown_hours, max_reminders_per_day, max_reminders_per_week,
	allowed_start_hour, allowed_end_hour, allowed_days_of_week,
	respect_opt_out, is_active, is_default, priority, created_at, updated_at`

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode reminder rules: %w", err)
	}

	query := `
		INSERT INTO reminder_policies (
			id, organisation_id, societe_id, product_id, name, rules,
			cooldown_hours, max_reminders_per_day, max_reminders_per_week,
			allowed_start_hour, allowed_end_hour, allowed_days_of_week,
			respect_opt_out, is_active, is_default, priority, created_at, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())`

	_, err = s.conn.ExecContext(ctx, query,
		p.ID, p.OrganisationID, p.SocieteID, p.ProductID, p.Name, rules,
		p.CooldownHours, p.MaxRemindersPerDay, p.MaxRemindersPerWeek,
		p.AllowedStartHour, p.AllowedEndHour, pq.Array(p.AllowedDaysOfWeek),
		p.RespectOptOut, p.IsActive, p.IsDefault, p.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode reminder rules: %w", err)
	}

	query := `
		UPDATE reminder_policies SET
			societe_id = NULLIF($2, ''), product_id = NULLIF($3, ''), name = $4, rules = $5,
			cooldown_hours = $6, max_reminders_per_day = $7, max_reminders_per_week = $8,
			allowed_start_hour = $9, allowed_end_hour = $10, allowed_days_of_week = $11,
			respect_opt_out = $12, is_active = $13, is_default = $14, priority = $15, updated_at = NOW()
		WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query,
		p.ID, p.SocieteID, p.ProductID, p.Name, rules,
		p.CooldownHours, p.MaxRemindersPerDay, p.MaxRemindersPerWeek,
		p.AllowedStartHour, p.AllowedEndHour, pq.Array(p.AllowedDaysOfWeek),
		p.RespectOptOut, p.IsActive, p.IsDefault, p.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder policy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+reminderPolicyColumns+` FROM reminder_policies WHERE id = $1`, id)
	policy, err := scanReminderPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder policy: %w", err)
	}
	return policy, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error) {
	query := `SELECT ` + reminderPolicyColumns + ` FROM reminder_policies WHERE organisation_id = $1`
	args := []interface{}{filter.OrganisationID}

	if filter.SocieteID != "" {
		args = append(args, filter.SocieteID)
		query += fmt.Sprintf(" AND societe_id = $%d", len(args))
	}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += fmt.Sprintf(" AND product_id = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY priority DESC, created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		policy, err := scanReminderPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder policy: %w", err)
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminderPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var rules []byte
	var days pq.Int64Array

	err := row.Scan(
		&p.ID, &p.OrganisationID, &p.SocieteID, &p.ProductID, &p.Name, &rules,
		&p.CooldownHours, &p.MaxRemindersPerDay, &p.MaxRemindersPerWeek,
		&p.AllowedStartHour, &p.AllowedEndHour, &days,
		&p.RespectOptOut, &p.IsActive, &p.IsDefault, &p.Priority, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode reminder rules: %w", err)
	}
	for _, d := range days {
		p.AllowedDaysOfWeek = append(p.AllowedDaysOfWeek, int(d))
	}
	return &p, nil
}

const reminderColumns = `
	id, policy_id, schedule_id, organisation_id, COALESCE(client_id, ''),
	channel, template_id, rule_order, status,
	COALESCE(provider_message_id, ''), COALESCE(error_code, ''),
	scheduled_at, sent_at, created_at`

func (s *PostgresStore) Create(ctx context.Context, r *Reminder) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO reminders (
			id, policy_id, schedule_id, organisation_id, client_id,
			channel, template_id, rule_order, status, scheduled_at, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`,
		r.ID, r.PolicyID, r.ScheduleID, r.OrganisationID, r.ClientID,
		r.Channel, r.TemplateID, r.RuleOrder, r.Status, r.ScheduledAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Reminder, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListBySchedule(ctx context.Context, scheduleID string) ([]Reminder, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE schedule_id = $1 ORDER BY created_at ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var r Reminder
	err := row.Scan(
		&r.ID, &r.PolicyID, &r.ScheduleID, &r.OrganisationID, &r.ClientID,
		&r.Channel, &r.TemplateID, &r.RuleOrder, &r.Status,
		&r.ProviderMessageID, &r.ErrorCode,
		&r.ScheduledAt, &r.SentAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, providerMessageID, errorCode string, sentAt *time.Time) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE reminders SET
			status = $2,
			provider_message_id = COALESCE(NULLIF($3, ''), provider_message_id),
			error_code = COALESCE(NULLIF($4, ''), error_code),
			sent_at = COALESCE($5, sent_at),
			claimed_at = NULL
		WHERE id = $1`, id, status, providerMessageID, errorCode, sentAt)
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PostgresStore) CancelPending(ctx context.Context, scheduleID string) (int, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE reminders SET status = 'FAILED', error_code = 'CANCELLED'
		WHERE schedule_id = $1 AND status = 'PENDING'`, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ClaimDue flips due PENDING reminders to SENDING in one statement so that
// concurrent ticker instances never pick up the same reminder.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	query := `
		UPDATE reminders SET status = 'SENDING', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM reminders
			WHERE status = 'PENDING' AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + reminderColumns

	rows, err := s.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed reminder: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE reminders SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'SENDING' AND claimed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale reminder claims: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
