package retry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements PolicyStore and ScheduleStore on PostgreSQL.
type PostgresStore struct {
	conn *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Schema returns the DDL for the retry tables.
func Schema() string {
	return `
		CREATE TABLE IF NOT EXISTS retry_policies (
			id UUID PRIMARY KEY,
			organisation_id VARCHAR(255) NOT NULL,
			societe_id VARCHAR(255),
			product_id VARCHAR(255),
			channel_id VARCHAR(255),
			name VARCHAR(255) NOT NULL,
			retry_delays_days INT[] NOT NULL,
			max_attempts INT NOT NULL,
			max_total_days INT NOT NULL,
			retry_on_am04 BOOLEAN NOT NULL DEFAULT FALSE,
			retryable_codes TEXT[] NOT NULL DEFAULT '{}',
			non_retryable_codes TEXT[] NOT NULL DEFAULT '{}',
			stop_on_payment_settled BOOLEAN NOT NULL DEFAULT TRUE,
			stop_on_contract_cancelled BOOLEAN NOT NULL DEFAULT TRUE,
			stop_on_mandate_revoked BOOLEAN NOT NULL DEFAULT TRUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_retry_policies_org ON retry_policies(organisation_id) WHERE is_active;

		CREATE TABLE IF NOT EXISTS retry_schedules (
			id UUID PRIMARY KEY,
			organisation_id VARCHAR(255) NOT NULL,
			payment_id VARCHAR(255) NOT NULL,
			contract_id VARCHAR(255),
			client_id VARCHAR(255),
			societe_id VARCHAR(255),
			product_id VARCHAR(255),
			policy_id UUID NOT NULL REFERENCES retry_policies(id),
			state VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			stop_reason VARCHAR(255),
			initial_code VARCHAR(100),
			rejection_count INT NOT NULL DEFAULT 1,
			first_rejected_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT valid_schedule_state CHECK (state IN ('ACTIVE', 'SUCCEEDED', 'EXHAUSTED', 'STOPPED')),
			CONSTRAINT unique_schedule_per_payment UNIQUE (organisation_id, payment_id)
		);

		CREATE INDEX IF NOT EXISTS idx_retry_schedules_contract ON retry_schedules(organisation_id, contract_id) WHERE state = 'ACTIVE';

		CREATE TABLE IF NOT EXISTS retry_attempts (
			id UUID PRIMARY KEY,
			schedule_id UUID NOT NULL REFERENCES retry_schedules(id),
			attempt_number INT NOT NULL,
			scheduled_at TIMESTAMP NOT NULL,
			executed_at TIMESTAMP,
			outcome VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			rejection_code VARCHAR(100),
			claimed_at TIMESTAMP,
			CONSTRAINT valid_attempt_outcome CHECK (outcome IN ('PENDING', 'CLAIMED', 'SUCCEEDED', 'FAILED', 'SKIPPED')),
			CONSTRAINT unique_attempt_number UNIQUE (schedule_id, attempt_number)
		);

		CREATE INDEX IF NOT EXISTS idx_retry_attempts_due ON retry_attempts(scheduled_at) WHERE outcome = 'PENDING';
	`
}

const policyColumns = `
	id, organisation_id, COALESCE(societe_id, ''), COALESCE(product_id, ''), COALESCE(channel_id, ''),
	name, retry_delays_days, max_attempts, max_total_days, retry_on_am04,
	retryable_codes, non_retryable_codes,
	stop_on_payment_settled, stop_on_contract_cancelled, stop_on_mandate_revoked,
	is_active, is_default, priority, created_at, updated_at`

func (s *PostgresStore) CreatePolicy(ctx context.Context, p *Policy) error {
	query := `
		INSERT INTO retry_policies (
			id, organisation_id, societe_id, product_id, channel_id, name,
			retry_delays_days, max_attempts, max_total_days, retry_on_am04,
			retryable_codes, non_retryable_codes,
			stop_on_payment_settled, stop_on_contract_cancelled, stop_on_mandate_revoked,
			is_active, is_default, priority, created_at, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID, p.OrganisationID, p.SocieteID, p.ProductID, p.ChannelID, p.Name,
		pq.Array(p.RetryDelaysDays), p.MaxAttempts, p.MaxTotalDays, p.RetryOnAM04,
		pq.Array(p.RetryableCodes), pq.Array(p.NonRetryableCodes),
		p.StopOnPaymentSettled, p.StopOnContractCancelled, p.StopOnMandateRevoked,
		p.IsActive, p.IsDefault, p.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	query := `
		UPDATE retry_policies SET
			societe_id = NULLIF($2, ''), product_id = NULLIF($3, ''), channel_id = NULLIF($4, ''),
			name = $5, retry_delays_days = $6, max_attempts = $7, max_total_days = $8,
			retry_on_am04 = $9, retryable_codes = $10, non_retryable_codes = $11,
			stop_on_payment_settled = $12, stop_on_contract_cancelled = $13, stop_on_mandate_revoked = $14,
			is_active = $15, is_default = $16, priority = $17, updated_at = NOW()
		WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query,
		p.ID, p.SocieteID, p.ProductID, p.ChannelID,
		p.Name, pq.Array(p.RetryDelaysDays), p.MaxAttempts, p.MaxTotalDays,
		p.RetryOnAM04, pq.Array(p.RetryableCodes), pq.Array(p.NonRetryableCodes),
		p.StopOnPaymentSettled, p.StopOnContractCancelled, p.StopOnMandateRevoked,
		p.IsActive, p.IsDefault, p.Priority,
	)
	if err != nil {
		return fmt.Errorf("failed to update retry policy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM retry_policies WHERE id = $1`, id)
	policy, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry policy: %w", err)
	}
	return policy, nil
}

func (s *PostgresStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM retry_policies WHERE organisation_id = $1`
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
		return nil, fmt.Errorf("failed to list retry policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry policy: %w", err)
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var delays pq.Int64Array
	var retryable, nonRetryable pq.StringArray

	err := row.Scan(
		&p.ID, &p.OrganisationID, &p.SocieteID, &p.ProductID, &p.ChannelID,
		&p.Name, &delays, &p.MaxAttempts, &p.MaxTotalDays, &p.RetryOnAM04,
		&retryable, &nonRetryable,
		&p.StopOnPaymentSettled, &p.StopOnContractCancelled, &p.StopOnMandateRevoked,
		&p.IsActive, &p.IsDefault, &p.Priority, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.RetryDelaysDays = make([]int, len(delays))
	for i, d := range delays {
		p.RetryDelaysDays[i] = int(d)
	}
	p.RetryableCodes = retryable
	p.NonRetryableCodes = nonRetryable
	return &p, nil
}

const scheduleColumns = `
	id, organisation_id, payment_id, COALESCE(contract_id, ''), COALESCE(client_id, ''),
	COALESCE(societe_id, ''), COALESCE(product_id, ''), policy_id, state, COALESCE(stop_reason, ''),
	COALESCE(initial_code, ''), rejection_count, first_rejected_at, created_at, updated_at`

func (s *PostgresStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO retry_schedules (
			id, organisation_id, payment_id, contract_id, client_id, societe_id, product_id,
			policy_id, state, stop_reason, initial_code, rejection_count, first_rejected_at, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11, $12, $13, $14, $15)`,
		sched.ID, sched.OrganisationID, sched.PaymentID, sched.ContractID, sched.ClientID,
		sched.SocieteID, sched.ProductID, sched.PolicyID, sched.State, sched.StopReason,
		sched.InitialCode, sched.RejectionCount, sched.FirstRejectedAt, sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry schedule: %w", err)
	}

	for i := range sched.Attempts {
		a := sched.Attempts[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO retry_attempts (id, schedule_id, attempt_number, scheduled_at, outcome)
			VALUES ($1, $2, $3, $4, $5)`,
			a.ID, sched.ID, a.AttemptNumber, a.ScheduledAt, a.Outcome,
		)
		if err != nil {
			return fmt.Errorf("failed to create attempt %d: %w", a.AttemptNumber, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM retry_schedules WHERE id = $1`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry schedule: %w", err)
	}
	if err := s.loadAttempts(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *PostgresStore) FindByPayment(ctx context.Context, orgID, paymentID string) (*Schedule, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM retry_schedules WHERE organisation_id = $1 AND payment_id = $2`,
		orgID, paymentID)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule by payment: %w", err)
	}
	if err := s.loadAttempts(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *PostgresStore) ListActiveByContract(ctx context.Context, orgID, contractID string) ([]*Schedule, error) {
	return s.listSchedules(ctx,
		`SELECT `+scheduleColumns+` FROM retry_schedules WHERE organisation_id = $1 AND contract_id = $2 AND state = 'ACTIVE'`,
		orgID, contractID)
}

func (s *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Schedule, error) {
	return s.listSchedules(ctx,
		`SELECT `+scheduleColumns+` FROM retry_schedules WHERE state = 'ACTIVE' ORDER BY created_at ASC LIMIT $1`,
		limit)
}

func (s *PostgresStore) listSchedules(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list retry schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry schedule: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, sched := range out {
		if err := s.loadAttempts(ctx, sched); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	err := row.Scan(
		&sched.ID, &sched.OrganisationID, &sched.PaymentID, &sched.ContractID, &sched.ClientID,
		&sched.SocieteID, &sched.ProductID, &sched.PolicyID, &sched.State, &sched.StopReason,
		&sched.InitialCode, &sched.RejectionCount, &sched.FirstRejectedAt, &sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *PostgresStore) loadAttempts(ctx context.Context, sched *Schedule) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, schedule_id, attempt_number, scheduled_at, executed_at, outcome, COALESCE(rejection_code, '')
		FROM retry_attempts
		WHERE schedule_id = $1
		ORDER BY attempt_number ASC`, sched.ID)
	if err != nil {
		return fmt.Errorf("failed to load attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.AttemptNumber, &a.ScheduledAt, &a.ExecutedAt, &a.Outcome, &a.RejectionCode); err != nil {
			return fmt.Errorf("failed to scan attempt: %w", err)
		}
		sched.Attempts = append(sched.Attempts, a)
	}
	return rows.Err()
}

func (s *PostgresStore) UpdateState(ctx context.Context, scheduleID string, state State, stopReason string) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE retry_schedules SET state = $2, stop_reason = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1`, scheduleID, state, stopReason)
	if err != nil {
		return fmt.Errorf("failed to update schedule state: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementRejections(ctx context.Context, scheduleID string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE retry_schedules SET rejection_count = rejection_count + 1, updated_at = NOW()
		WHERE id = $1`, scheduleID)
	if err != nil {
		return fmt.Errorf("failed to increment rejection count: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddAttempt(ctx context.Context, a *Attempt) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO retry_attempts (id, schedule_id, attempt_number, scheduled_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id, attempt_number) DO NOTHING`,
		a.ID, a.ScheduleID, a.AttemptNumber, a.ScheduledAt, a.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to add attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	var a Attempt
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, schedule_id, attempt_number, scheduled_at, executed_at, outcome, COALESCE(rejection_code, '')
		FROM retry_attempts WHERE id = $1`, attemptID).Scan(
		&a.ID, &a.ScheduleID, &a.AttemptNumber, &a.ScheduledAt, &a.ExecutedAt, &a.Outcome, &a.RejectionCode,
	)
	if err == sql.ErrNoRows {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CompleteAttempt(ctx context.Context, attemptID string, outcome Outcome, rejectionCode string, executedAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE retry_attempts SET outcome = $2, rejection_code = NULLIF($3, ''), executed_at = $4, claimed_at = NULL
		WHERE id = $1`, attemptID, outcome, rejectionCode, executedAt)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelPendingAttempts(ctx context.Context, scheduleID string) (int, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE retry_attempts SET outcome = 'SKIPPED'
		WHERE schedule_id = $1 AND outcome = 'PENDING'`, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending attempts: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ClaimDueAttempts flips due PENDING attempts to CLAIMED in one statement.
// FOR UPDATE SKIP LOCKED keeps concurrent ticker instances from claiming the
// same rows.
func (s *PostgresStore) ClaimDueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	query := `
		UPDATE retry_attempts SET outcome = 'CLAIMED', claimed_at = NOW()
		WHERE id IN (
			SELECT a.id
			FROM retry_attempts a
			JOIN retry_schedules s ON s.id = a.schedule_id
			WHERE a.outcome = 'PENDING' AND a.scheduled_at <= $1 AND s.state = 'ACTIVE'
			ORDER BY a.scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, schedule_id, attempt_number, scheduled_at, executed_at, outcome, COALESCE(rejection_code, '')`

	rows, err := s.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.AttemptNumber, &a.ScheduledAt, &a.ExecutedAt, &a.Outcome, &a.RejectionCode); err != nil {
			return nil, fmt.Errorf("failed to scan claimed attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE retry_attempts SET outcome = 'PENDING', claimed_at = NULL
		WHERE outcome = 'CLAIMED' AND claimed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
