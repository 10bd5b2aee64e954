// Package retry implements retry-policy resolution and the bounded retry
// state machine for failed recurring payments.
package retry

import (
	"errors"
	"time"
)

// AM04 is the SEPA rejection reason code for insufficient funds. Whether it
// is retryable is a per-policy decision (RetryOnAM04).
const AM04 = "AM04"

// ErrPolicyNotFound is returned when no policy matches a scope and no
// default policy is configured for the organisation.
var ErrPolicyNotFound = errors.New("no retry policy found")

// ErrScheduleNotFound is returned when a referenced schedule or attempt does
// not exist.
var ErrScheduleNotFound = errors.New("retry schedule not found")

// Policy defines the retry behavior for failed payments in a scope. Delays
// are an explicit day-offset schedule, not a backoff formula: attempt n+1 is
// scheduled RetryDelaysDays[n] days after attempt n, the index clamping to
// the last configured delay.
type Policy struct {
	ID                     string    `json:"id"`
	OrganisationID         string    `json:"organisation_id"`
	SocieteID              string    `json:"societe_id,omitempty"`
	ProductID              string    `json:"product_id,omitempty"`
	ChannelID              string    `json:"channel_id,omitempty"`
	Name                   string    `json:"name"`
	RetryDelaysDays        []int     `json:"retry_delays_days"`
	MaxAttempts            int       `json:"max_attempts"`
	MaxTotalDays           int       `json:"max_total_days"`
	RetryOnAM04            bool      `json:"retry_on_am04"`
	RetryableCodes         []string  `json:"retryable_codes,omitempty"`
	NonRetryableCodes      []string  `json:"non_retryable_codes,omitempty"`
	StopOnPaymentSettled   bool      `json:"stop_on_payment_settled"`
	StopOnContractCancelled bool     `json:"stop_on_contract_cancelled"`
	StopOnMandateRevoked   bool      `json:"stop_on_mandate_revoked"`
	IsActive               bool      `json:"is_active"`
	IsDefault              bool      `json:"is_default"`
	Priority               int       `json:"priority"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Retryable decides whether a rejection code qualifies for a retry schedule.
// The explicit deny list wins over everything, then the allow list, then the
// AM04 flag; unknown codes default to retryable.
func (p *Policy) Retryable(code string) bool {
	for _, c := range p.NonRetryableCodes {
		if c == code {
			return false
		}
	}
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	if code == AM04 {
		return p.RetryOnAM04
	}
	return true
}

// DelayAfter returns the day offset between the given attempt and the next
// one. The 1-based attempt number indexes RetryDelaysDays directly and
// clamps to the last entry when the policy allows more attempts than it
// configures delays.
func (p *Policy) DelayAfter(attemptNumber int) int {
	if len(p.RetryDelaysDays) == 0 {
		return 0
	}
	if attemptNumber >= len(p.RetryDelaysDays) {
		return p.RetryDelaysDays[len(p.RetryDelaysDays)-1]
	}
	if attemptNumber < 0 {
		return p.RetryDelaysDays[0]
	}
	return p.RetryDelaysDays[attemptNumber]
}

// FirstDelay returns the day offset of the first attempt after a rejection.
func (p *Policy) FirstDelay() int {
	if len(p.RetryDelaysDays) == 0 {
		return 0
	}
	return p.RetryDelaysDays[0]
}

// StopsOn reports whether the policy reacts to the given stop condition.
func (p *Policy) StopsOn(kind StopKind) bool {
	switch kind {
	case StopPaymentSettled:
		return p.StopOnPaymentSettled
	case StopContractCancelled:
		return p.StopOnContractCancelled
	case StopMandateRevoked:
		return p.StopOnMandateRevoked
	}
	return false
}
