// Package reminder implements reminder-policy resolution and the throttled
// customer-reminder scheduler attached to retry schedules.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPolicyNotFound is returned when no reminder policy matches a scope and
// no default policy exists.
var ErrPolicyNotFound = errors.New("no reminder policy found")

// ErrReminderNotFound is returned when a referenced reminder does not exist.
var ErrReminderNotFound = errors.New("reminder not found")

// TriggerType identifies when a rule fires relative to the retry schedule.
type TriggerType string

const (
	// TriggerAfterRejection fires DelayHours after the first rejection.
	TriggerAfterRejection TriggerType = "AFTER_REJECTION"
	// TriggerBeforeRetry fires DaysBeforeRetry days before the next pending
	// retry attempt.
	TriggerBeforeRetry TriggerType = "BEFORE_RETRY"
)

// Rule is one ordered trigger of a reminder policy.
type Rule struct {
	Trigger            TriggerType `json:"trigger"`
	Channel            string      `json:"channel"`
	TemplateID         string      `json:"template_id"`
	DelayHours         int         `json:"delay_hours,omitempty"`
	DaysBeforeRetry    int         `json:"days_before_retry,omitempty"`
	Order              int         `json:"order"`
	OnlyIfNoResponse   bool        `json:"only_if_no_response"`
	OnlyFirstRejection bool        `json:"only_first_rejection"`
}

// Policy throttles and targets reminders for a scope. AllowedDaysOfWeek uses
// ISO numbering (1=Monday .. 7=Sunday); an empty set allows every day, and
// AllowedStartHour==AllowedEndHour==0 disables the hour window.
type Policy struct {
	ID                  string    `json:"id"`
	OrganisationID      string    `json:"organisation_id"`
	SocieteID           string    `json:"societe_id,omitempty"`
	ProductID           string    `json:"product_id,omitempty"`
	Name                string    `json:"name"`
	Rules               []Rule    `json:"rules"`
	CooldownHours       int       `json:"cooldown_hours"`
	MaxRemindersPerDay  int       `json:"max_reminders_per_day"`
	MaxRemindersPerWeek int       `json:"max_reminders_per_week"`
	AllowedStartHour    int       `json:"allowed_start_hour"`
	AllowedEndHour      int       `json:"allowed_end_hour"`
	AllowedDaysOfWeek   []int     `json:"allowed_days_of_week,omitempty"`
	RespectOptOut       bool      `json:"respect_opt_out"`
	IsActive            bool      `json:"is_active"`
	IsDefault           bool      `json:"is_default"`
	Priority            int       `json:"priority"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// WithinWindow reports whether the instant satisfies the allowed-hour window
// and allowed weekdays.
func (p *Policy) WithinWindow(now time.Time) bool {
	if !(p.AllowedStartHour == 0 && p.AllowedEndHour == 0) {
		h := now.Hour()
		if h < p.AllowedStartHour || h >= p.AllowedEndHour {
			return false
		}
	}
	if len(p.AllowedDaysOfWeek) == 0 {
		return true
	}
	iso := int(now.Weekday())
	if iso == 0 {
		iso = 7 // Sunday
	}
	for _, d := range p.AllowedDaysOfWeek {
		if d == iso {
			return true
		}
	}
	return false
}

// PolicyFilter narrows ListPolicies results.
type PolicyFilter struct {
	OrganisationID string
	SocieteID      string
	ProductID      string
	ActiveOnly     bool
	Limit          int
	Offset         int
}

// PolicyStore persists reminder policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)
}

// Resolver picks the reminder policy applicable to a scope with the same
// precedence rules as retry policies: highest priority, ties broken by
// societe then product specificity, default policy as fallback.
type Resolver struct {
	store PolicyStore
}

func NewResolver(store PolicyStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, orgID, societeID, productID string) (*Policy, error) {
	policies, err := r.store.ListPolicies(ctx, PolicyFilter{OrganisationID: orgID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder policies: %w", err)
	}

	var best *Policy
	for i := range policies {
		p := &policies[i]
		if p.SocieteID != "" && p.SocieteID != societeID {
			continue
		}
		if p.ProductID != "" && p.ProductID != productID {
			continue
		}
		if best == nil || moreSpecific(p, best) {
			best = p
		}
	}
	if best != nil {
		out := *best
		return &out, nil
	}

	for i := range policies {
		if policies[i].IsDefault {
			out := policies[i]
			return &out, nil
		}
	}

	return nil, fmt.Errorf("%w: organisation %s societe %q product %q", ErrPolicyNotFound, orgID, societeID, productID)
}

func moreSpecific(candidate, current *Policy) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	if (candidate.SocieteID != "") != (current.SocieteID != "") {
		return candidate.SocieteID != ""
	}
	if (candidate.ProductID != "") != (current.ProductID != "") {
		return candidate.ProductID != ""
	}
	return false
}
