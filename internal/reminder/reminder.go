package reminder

import (
	"context"
	"time"
)

// Status is the delivery lifecycle of a reminder. SENDING is a transient
// executor-side claim guaranteeing at-most-one send per reminder; the
// remaining states come from delivery-status callbacks.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusBounced   Status = "BOUNCED"
	StatusOpened    Status = "OPENED"
	StatusClicked   Status = "CLICKED"
	StatusFailed    Status = "FAILED"
)

// Responded reports whether the status counts as a customer response for
// onlyIfNoResponse rules.
func (s Status) Responded() bool {
	return s == StatusDelivered || s == StatusOpened || s == StatusClicked
}

// Reminder is one scheduled customer notification. Created by the scheduler;
// only delivery-status callbacks mutate Status afterwards.
type Reminder struct {
	ID                string     `json:"id"`
	PolicyID          string     `json:"policy_id"`
	ScheduleID        string     `json:"schedule_id"`
	OrganisationID    string     `json:"organisation_id"`
	ClientID          string     `json:"client_id,omitempty"`
	Channel           string     `json:"channel"`
	TemplateID        string     `json:"template_id"`
	RuleOrder         int        `json:"rule_order"`
	Status            Status     `json:"status"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// EffectiveAt is the instant used for cooldown and rate-limit accounting.
func (r *Reminder) EffectiveAt() time.Time {
	if r.SentAt != nil {
		return *r.SentAt
	}
	return r.ScheduledAt
}

// Store persists reminders.
type Store interface {
	Create(ctx context.Context, r *Reminder) error
	Get(ctx context.Context, id string) (*Reminder, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]Reminder, error)
	UpdateStatus(ctx context.Context, id string, status Status, providerMessageID, errorCode string, sentAt *time.Time) error
	CancelPending(ctx context.Context, scheduleID string) (int, error)

	// ClaimDue atomically flips due PENDING reminders to SENDING so that
	// concurrent ticker instances never send the same reminder twice.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error)

	// ReleaseStaleClaims returns reminders stuck in SENDING to PENDING.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error)
}
