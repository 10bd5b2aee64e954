package events

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
	"github.com/finova/collection-engine/internal/websocket"
)

// Broker publishes outbound events to downstream consumers.
type Broker interface {
	Publish(ctx context.Context, event OutboundEvent) error
}

// Publisher fans collection events out to the broker and the WebSocket feed.
// Publishing is fire-and-forget: state transitions are already durable in
// the store, so a lost notification never loses business state. A nil
// *Publisher is safe and publishes nothing.
type Publisher struct {
	broker Broker
	hub    *websocket.Hub
	logger *log.Logger
}

func NewPublisher(broker Broker, hub *websocket.Hub, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{broker: broker, hub: hub, logger: logger}
}

// PublishAsync sends an outbound event without blocking the caller.
func (p *Publisher) PublishAsync(eventType string, payload interface{}) {
	if p == nil || p.broker == nil {
		return
	}
	event := OutboundEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.broker.Publish(ctx, event); err != nil {
			p.logger.Printf("Failed to publish %s: %v", eventType, err)
		}
	}()
}

func (p *Publisher) broadcast(msgType, event string, data interface{}) {
	if p == nil || p.hub == nil {
		return
	}
	if err := p.hub.BroadcastEvent(msgType, event, data); err != nil {
		p.logger.Printf("Failed to broadcast %s: %v", event, err)
	}
}

// ScheduleEventData is the outbound payload for retry schedule events.
type ScheduleEventData struct {
	ScheduleID     string `json:"schedule_id"`
	OrganisationID string `json:"organisation_id"`
	PaymentID      string `json:"payment_id"`
	ContractID     string `json:"contract_id,omitempty"`
	PolicyID       string `json:"policy_id"`
	State          string `json:"state"`
	StopReason     string `json:"stop_reason,omitempty"`
	RejectionCount int    `json:"rejection_count"`
}

// AttemptEventData is the outbound payload for retry.attempt.scheduled.
type AttemptEventData struct {
	ScheduleID     string    `json:"schedule_id"`
	OrganisationID string    `json:"organisation_id"`
	PaymentID      string    `json:"payment_id"`
	AttemptID      string    `json:"attempt_id"`
	AttemptNumber  int       `json:"attempt_number"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

// ReminderEventData is the outbound payload for reminder.scheduled.
type ReminderEventData struct {
	ReminderID     string    `json:"reminder_id"`
	ScheduleID     string    `json:"schedule_id"`
	OrganisationID string    `json:"organisation_id"`
	ClientID       string    `json:"client_id,omitempty"`
	Channel        string    `json:"channel"`
	TemplateID     string    `json:"template_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

func scheduleData(s *retry.Schedule) ScheduleEventData {
	return ScheduleEventData{
		ScheduleID:     s.ID,
		OrganisationID: s.OrganisationID,
		PaymentID:      s.PaymentID,
		ContractID:     s.ContractID,
		PolicyID:       s.PolicyID,
		State:          string(s.State),
		StopReason:     s.StopReason,
		RejectionCount: s.RejectionCount,
	}
}

func retryFeedData(s *retry.Schedule) websocket.RetryData {
	return websocket.RetryData{
		ScheduleID:     s.ID,
		OrganisationID: s.OrganisationID,
		PaymentID:      s.PaymentID,
		ContractID:     s.ContractID,
		State:          string(s.State),
		StopReason:     s.StopReason,
	}
}

func (p *Publisher) ScheduleStarted(s *retry.Schedule) {
	p.PublishAsync(TypeScheduleStarted, scheduleData(s))
	p.broadcast(websocket.TypeRetry, websocket.EventScheduleStarted, retryFeedData(s))
}

func (p *Publisher) AttemptScheduled(s *retry.Schedule, a *retry.Attempt) {
	p.PublishAsync(TypeAttemptScheduled, AttemptEventData{
		ScheduleID:     s.ID,
		OrganisationID: s.OrganisationID,
		PaymentID:      s.PaymentID,
		AttemptID:      a.ID,
		AttemptNumber:  a.AttemptNumber,
		ScheduledAt:    a.ScheduledAt,
	})

	data := retryFeedData(s)
	data.AttemptNumber = a.AttemptNumber
	data.ScheduledAt = a.ScheduledAt.Format(time.RFC3339)
	p.broadcast(websocket.TypeRetry, websocket.EventAttemptScheduled, data)
}

func (p *Publisher) ScheduleSucceeded(s *retry.Schedule) {
	p.PublishAsync(TypeScheduleSucceeded, scheduleData(s))
	p.broadcast(websocket.TypeRetry, websocket.EventScheduleSucceeded, retryFeedData(s))
}

func (p *Publisher) ScheduleExhausted(s *retry.Schedule) {
	p.PublishAsync(TypeScheduleExhausted, scheduleData(s))
	p.broadcast(websocket.TypeRetry, websocket.EventScheduleExhausted, retryFeedData(s))
}

func (p *Publisher) ScheduleStopped(s *retry.Schedule) {
	p.PublishAsync(TypeScheduleStopped, scheduleData(s))
	p.broadcast(websocket.TypeRetry, websocket.EventScheduleStopped, retryFeedData(s))
}

func (p *Publisher) ReminderScheduled(r *reminder.Reminder) {
	p.PublishAsync(TypeReminderScheduled, ReminderEventData{
		ReminderID:     r.ID,
		ScheduleID:     r.ScheduleID,
		OrganisationID: r.OrganisationID,
		ClientID:       r.ClientID,
		Channel:        r.Channel,
		TemplateID:     r.TemplateID,
		ScheduledAt:    r.ScheduledAt,
	})
	p.broadcast(websocket.TypeReminder, websocket.EventReminderScheduled, websocket.ReminderData{
		ReminderID:     r.ID,
		ScheduleID:     r.ScheduleID,
		OrganisationID: r.OrganisationID,
		Channel:        r.Channel,
		TemplateID:     r.TemplateID,
		Status:         string(r.Status),
	})
}
