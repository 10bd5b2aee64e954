package websocket

import (
	"encoding/json"
	"time"
)

// Message types for WebSocket events
const (
	TypeRetry     = "retry"
	TypeReminder  = "reminder"
	TypeDebitDate = "debit_date"
	TypeScheduler = "scheduler"
	TypeHealth    = "health"
	TypeHeartbeat = "heartbeat"
)

// Retry schedule events
const (
	EventScheduleStarted   = "schedule_started"
	EventAttemptScheduled  = "attempt_scheduled"
	EventScheduleSucceeded = "schedule_succeeded"
	EventScheduleExhausted = "schedule_exhausted"
	EventScheduleStopped   = "schedule_stopped"
)

// Reminder events
const (
	EventReminderScheduled = "reminder_scheduled"
	EventReminderSent      = "reminder_sent"
	EventReminderFailed    = "reminder_failed"
)

// Debit date events
const (
	EventDateCalculated = "date_calculated"
)

// Scheduler events
const (
	EventTickStarted   = "tick_started"
	EventTickCompleted = "tick_completed"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType, event string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RetryData represents retry schedule event data
type RetryData struct {
	ScheduleID     string `json:"schedule_id"`
	OrganisationID string `json:"organisation_id"`
	PaymentID      string `json:"payment_id"`
	ContractID     string `json:"contract_id,omitempty"`
	State          string `json:"state"`
	StopReason     string `json:"stop_reason,omitempty"`
	AttemptNumber  int    `json:"attempt_number,omitempty"`
	ScheduledAt    string `json:"scheduled_at,omitempty"`
	RejectionCode  string `json:"rejection_code,omitempty"`
}

// ReminderData represents reminder event data
type ReminderData struct {
	ReminderID     string `json:"reminder_id"`
	ScheduleID     string `json:"schedule_id"`
	OrganisationID string `json:"organisation_id"`
	Channel        string `json:"channel"`
	TemplateID     string `json:"template_id"`
	Status         string `json:"status"`
	ErrorCode      string `json:"error_code,omitempty"`
}

// SchedulerData represents ticker pass statistics
type SchedulerData struct {
	AttemptsClaimed   int    `json:"attempts_claimed"`
	RemindersClaimed  int    `json:"reminders_claimed"`
	SchedulesReviewed int    `json:"schedules_reviewed"`
	Duration          string `json:"duration,omitempty"`
}

// HeartbeatData represents heartbeat data
type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
