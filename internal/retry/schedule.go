package retry

import (
	"context"
	"time"
)

// State is the lifecycle state of a retry schedule.
type State string

const (
	StateActive    State = "ACTIVE"
	StateSucceeded State = "SUCCEEDED"
	StateExhausted State = "EXHAUSTED"
	StateStopped   State = "STOPPED"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateStopped
}

// Outcome is the result of a single retry attempt. CLAIMED is a transient
// executor-side state guaranteeing at-most-one execution per attempt.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeClaimed   Outcome = "CLAIMED"
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeSkipped   Outcome = "SKIPPED"
)

// StopKind identifies an external stop condition.
type StopKind string

const (
	StopPaymentSettled    StopKind = "PAYMENT_SETTLED"
	StopContractCancelled StopKind = "CONTRACT_CANCELLED"
	StopMandateRevoked    StopKind = "MANDATE_REVOKED"
)

// Reason returns the stop reason recorded on the schedule.
func (k StopKind) Reason() string {
	switch k {
	case StopPaymentSettled:
		return "payment settled"
	case StopContractCancelled:
		return "contract cancelled"
	case StopMandateRevoked:
		return "mandate revoked"
	}
	return string(k)
}

// Attempt is one entry of a schedule's ordered attempt list.
type Attempt struct {
	ID            string     `json:"id"`
	ScheduleID    string     `json:"schedule_id"`
	AttemptNumber int        `json:"attempt_number"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	RejectionCode string     `json:"rejection_code,omitempty"`
}

// Schedule tracks the retry lifecycle of one failed payment occurrence.
type Schedule struct {
	ID              string    `json:"id"`
	OrganisationID  string    `json:"organisation_id"`
	PaymentID       string    `json:"payment_id"`
	ContractID      string    `json:"contract_id,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`
	SocieteID       string    `json:"societe_id,omitempty"`
	ProductID       string    `json:"product_id,omitempty"`
	PolicyID        string    `json:"policy_id"`
	State           State     `json:"state"`
	StopReason      string    `json:"stop_reason,omitempty"`
	InitialCode     string    `json:"initial_code"`
	RejectionCount  int       `json:"rejection_count"`
	FirstRejectedAt time.Time `json:"first_rejected_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Attempts        []Attempt `json:"attempts,omitempty"`
}

// NextPendingAttempt returns the earliest attempt still waiting to run.
func (s *Schedule) NextPendingAttempt() *Attempt {
	for i := range s.Attempts {
		if s.Attempts[i].Outcome == OutcomePending {
			return &s.Attempts[i]
		}
	}
	return nil
}

// FirstAttemptAt returns the scheduled time of attempt 1, or zero.
func (s *Schedule) FirstAttemptAt() time.Time {
	for i := range s.Attempts {
		if s.Attempts[i].AttemptNumber == 1 {
			return s.Attempts[i].ScheduledAt
		}
	}
	return time.Time{}
}

// ScheduleStore persists schedules and attempts.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	FindByPayment(ctx context.Context, orgID, paymentID string) (*Schedule, error)
	ListActiveByContract(ctx context.Context, orgID, contractID string) ([]*Schedule, error)
	ListActive(ctx context.Context, limit int) ([]*Schedule, error)
	UpdateState(ctx context.Context, scheduleID string, state State, stopReason string) error
	IncrementRejections(ctx context.Context, scheduleID string) error

	AddAttempt(ctx context.Context, a *Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (*Attempt, error)
	CompleteAttempt(ctx context.Context, attemptID string, outcome Outcome, rejectionCode string, executedAt time.Time) error
	CancelPendingAttempts(ctx context.Context, scheduleID string) (int, error)

	// ClaimDueAttempts atomically flips due PENDING attempts of ACTIVE
	// schedules to CLAIMED so that concurrent ticker instances never execute
	// the same attempt twice.
	ClaimDueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error)

	// ReleaseStaleClaims returns attempts stuck in CLAIMED (crashed worker)
	// to PENDING.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error)
}
