package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/finova/collection-engine/internal/events"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
)

// EventHandler maps inbound payment events onto the retry state machine.
// Errors bubble up to the dispatcher, which requeues the delivery.
type EventHandler struct {
	retries   *retry.Scheduler
	reminders reminder.Store
	logger    *log.Logger
}

func NewEventHandler(retries *retry.Scheduler, reminders reminder.Store, logger *log.Logger) *EventHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &EventHandler{retries: retries, reminders: reminders, logger: logger}
}

func (h *EventHandler) Handle(ctx context.Context, event events.InboundEvent) error {
	switch event.Type {
	case events.TypePaymentRejected:
		return h.handleRejected(ctx, event)
	case events.TypePaymentSettled:
		return h.handleStop(ctx, event, retry.StopPaymentSettled)
	case events.TypeContractCancelled:
		return h.handleStop(ctx, event, retry.StopContractCancelled)
	case events.TypeMandateRevoked:
		return h.handleStop(ctx, event, retry.StopMandateRevoked)
	default:
		// Unknown types are acknowledged, not requeued: redelivery cannot
		// make them known.
		h.logger.Printf("Ignoring event %s with unknown type %s", event.ID, event.Type)
		return nil
	}
}

func (h *EventHandler) handleRejected(ctx context.Context, event events.InboundEvent) error {
	var payload events.PaymentRejectedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		h.logger.Printf("Dropping payment.rejected %s with invalid payload: %v", event.ID, err)
		return nil
	}

	sched, err := h.retries.HandleRejection(ctx, retry.Rejection{
		OrganisationID: payload.OrganisationID,
		PaymentID:      payload.PaymentID,
		ContractID:     payload.ContractID,
		ClientID:       payload.ClientID,
		SocieteID:      payload.SocieteID,
		ProductID:      payload.ProductID,
		Code:           payload.Code,
		OccurredAt:     event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to handle rejection for payment %s: %w", payload.PaymentID, err)
	}

	h.logger.Printf("Handled payment.rejected %s: schedule %s state %s", event.ID, sched.ID, sched.State)
	return nil
}

func (h *EventHandler) handleStop(ctx context.Context, event events.InboundEvent, kind retry.StopKind) error {
	stop := retry.StopEvent{Kind: kind}

	switch kind {
	case retry.StopPaymentSettled:
		var payload events.PaymentSettledPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			h.logger.Printf("Dropping %s %s with invalid payload: %v", event.Type, event.ID, err)
			return nil
		}
		stop.OrganisationID = payload.OrganisationID
		stop.PaymentID = payload.PaymentID
	case retry.StopContractCancelled:
		var payload events.ContractCancelledPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			h.logger.Printf("Dropping %s %s with invalid payload: %v", event.Type, event.ID, err)
			return nil
		}
		stop.OrganisationID = payload.OrganisationID
		stop.ContractID = payload.ContractID
	case retry.StopMandateRevoked:
		var payload events.MandateRevokedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			h.logger.Printf("Dropping %s %s with invalid payload: %v", event.Type, event.ID, err)
			return nil
		}
		stop.OrganisationID = payload.OrganisationID
		stop.ContractID = payload.ContractID
	}

	stopped, err := h.retries.HandleStop(ctx, stop)
	if err != nil {
		return fmt.Errorf("failed to handle %s: %w", event.Type, err)
	}

	// A stopped schedule has no business sending the reminders it queued.
	for _, sched := range stopped {
		if n, err := h.reminders.CancelPending(ctx, sched.ID); err != nil {
			h.logger.Printf("Error cancelling reminders for schedule %s: %v", sched.ID, err)
		} else if n > 0 {
			h.logger.Printf("Cancelled %d pending reminders for stopped schedule %s", n, sched.ID)
		}
	}

	h.logger.Printf("Handled %s %s: %d schedule(s) stopped", event.Type, event.ID, len(stopped))
	return nil
}
