// Package events carries the payment events flowing in and out of the
// collection engine: broker deliveries from the payment platform on the way
// in, schedule and reminder notifications on the way out.
package events

import (
	"encoding/json"
	"time"
)

// Inbound event types
const (
	TypePaymentRejected   = "payment.rejected"
	TypePaymentSettled    = "payment.settled"
	TypeContractCancelled = "contract.cancelled"
	TypeMandateRevoked    = "mandate.revoked"
)

// Outbound event types
const (
	TypeScheduleStarted   = "retry.schedule.started"
	TypeAttemptScheduled  = "retry.attempt.scheduled"
	TypeScheduleSucceeded = "retry.schedule.succeeded"
	TypeScheduleExhausted = "retry.schedule.exhausted"
	TypeScheduleStopped   = "retry.schedule.stopped"
	TypeReminderScheduled = "reminder.scheduled"
)

// InboundEvent is the envelope of a broker delivery. ID is the producer's
// event id and drives deduplication, never the broker delivery tag.
type InboundEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// PaymentRejectedPayload is the payload of a payment.rejected event.
type PaymentRejectedPayload struct {
	OrganisationID string `json:"organisation_id"`
	PaymentID      string `json:"payment_id"`
	ContractID     string `json:"contract_id,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	SocieteID      string `json:"societe_id,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	Code           string `json:"code"`
}

// PaymentSettledPayload is the payload of a payment.settled event.
type PaymentSettledPayload struct {
	OrganisationID string `json:"organisation_id"`
	PaymentID      string `json:"payment_id"`
}

// ContractCancelledPayload is the payload of a contract.cancelled event.
type ContractCancelledPayload struct {
	OrganisationID string `json:"organisation_id"`
	ContractID     string `json:"contract_id"`
}

// MandateRevokedPayload is the payload of a mandate.revoked event.
type MandateRevokedPayload struct {
	OrganisationID string `json:"organisation_id"`
	ContractID     string `json:"contract_id"`
	MandateID      string `json:"mandate_id,omitempty"`
}

// OutboundEvent is the envelope published for downstream consumers.
type OutboundEvent struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}
