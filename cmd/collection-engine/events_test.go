package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/finova/collection-engine/internal/events"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestHandler(t *testing.T) (*EventHandler, *retry.MemoryScheduleStore, *reminder.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	policies := retry.NewMemoryPolicyStore()
	if err := policies.CreatePolicy(ctx, &retry.Policy{
		ID:                      "pol-1",
		OrganisationID:          "org-1",
		Name:                    "standard",
		RetryDelaysDays:         []int{5, 10, 15},
		MaxAttempts:             3,
		MaxTotalDays:            45,
		RetryOnAM04:             true,
		StopOnPaymentSettled:    true,
		StopOnContractCancelled: true,
		StopOnMandateRevoked:    true,
		IsActive:                true,
		IsDefault:               true,
	}); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	schedules := retry.NewMemoryScheduleStore()
	reminders := reminder.NewMemoryStore()
	scheduler := retry.NewScheduler(retry.NewResolver(policies), policies, schedules, nil, nil, testLogger())
	return NewEventHandler(scheduler, reminders, testLogger()), schedules, reminders
}

func inboundEvent(t *testing.T, id, eventType string, payload interface{}) events.InboundEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshalling payload failed: %v", err)
	}
	return events.InboundEvent{
		ID:         id,
		Type:       eventType,
		OccurredAt: time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC),
		Payload:    data,
	}
}

func TestEventHandler_PaymentRejectedStartsSchedule(t *testing.T) {
	ctx := context.Background()
	handler, schedules, _ := newTestHandler(t)

	err := handler.Handle(ctx, inboundEvent(t, "evt-1", events.TypePaymentRejected, events.PaymentRejectedPayload{
		OrganisationID: "org-1",
		PaymentID:      "pay-1",
		ContractID:     "ct-1",
		Code:           "AM04",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	schedule, err := schedules.FindByPayment(ctx, "org-1", "pay-1")
	if err != nil {
		t.Fatalf("FindByPayment failed: %v", err)
	}
	if schedule == nil {
		t.Fatal("expected a schedule for the rejected payment")
	}
	if schedule.State != retry.StateActive {
		t.Errorf("state = %s, want %s", schedule.State, retry.StateActive)
	}
	if len(schedule.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(schedule.Attempts))
	}
}

func TestEventHandler_PaymentSettledStopsScheduleAndReminders(t *testing.T) {
	ctx := context.Background()
	handler, schedules, reminders := newTestHandler(t)

	if err := handler.Handle(ctx, inboundEvent(t, "evt-1", events.TypePaymentRejected, events.PaymentRejectedPayload{
		OrganisationID: "org-1",
		PaymentID:      "pay-1",
		Code:           "AM04",
	})); err != nil {
		t.Fatalf("Handle(rejected) failed: %v", err)
	}

	schedule, err := schedules.FindByPayment(ctx, "org-1", "pay-1")
	if err != nil || schedule == nil {
		t.Fatalf("schedule lookup failed: %v", err)
	}
	if err := reminders.Create(ctx, &reminder.Reminder{
		ID:         "rem-1",
		ScheduleID: schedule.ID,
		Status:     reminder.StatusPending,
	}); err != nil {
		t.Fatalf("seeding reminder failed: %v", err)
	}

	if err := handler.Handle(ctx, inboundEvent(t, "evt-2", events.TypePaymentSettled, events.PaymentSettledPayload{
		OrganisationID: "org-1",
		PaymentID:      "pay-1",
	})); err != nil {
		t.Fatalf("Handle(settled) failed: %v", err)
	}

	updated, err := schedules.GetSchedule(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if updated.State != retry.StateStopped {
		t.Errorf("state = %s, want %s", updated.State, retry.StateStopped)
	}

	rem, err := reminders.Get(ctx, "rem-1")
	if err != nil {
		t.Fatalf("Get reminder failed: %v", err)
	}
	if rem.Status != reminder.StatusFailed || rem.ErrorCode != "CANCELLED" {
		t.Errorf("reminder = %s/%s, want FAILED/CANCELLED", rem.Status, rem.ErrorCode)
	}
}

func TestEventHandler_ContractCancelledStopsAllSchedules(t *testing.T) {
	ctx := context.Background()
	handler, schedules, _ := newTestHandler(t)

	for _, paymentID := range []string{"pay-1", "pay-2"} {
		if err := handler.Handle(ctx, inboundEvent(t, "evt-"+paymentID, events.TypePaymentRejected, events.PaymentRejectedPayload{
			OrganisationID: "org-1",
			PaymentID:      paymentID,
			ContractID:     "ct-1",
			Code:           "AM04",
		})); err != nil {
			t.Fatalf("Handle(rejected %s) failed: %v", paymentID, err)
		}
	}

	if err := handler.Handle(ctx, inboundEvent(t, "evt-cancel", events.TypeContractCancelled, events.ContractCancelledPayload{
		OrganisationID: "org-1",
		ContractID:     "ct-1",
	})); err != nil {
		t.Fatalf("Handle(cancelled) failed: %v", err)
	}

	active, err := schedules.ListActiveByContract(ctx, "org-1", "ct-1")
	if err != nil {
		t.Fatalf("ListActiveByContract failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active schedules after cancellation, got %d", len(active))
	}
}

func TestEventHandler_DropsUnusableEvents(t *testing.T) {
	ctx := context.Background()
	handler, schedules, _ := newTestHandler(t)

	t.Run("unknown type is acknowledged", func(t *testing.T) {
		err := handler.Handle(ctx, events.InboundEvent{ID: "evt-1", Type: "invoice.created"})
		if err != nil {
			t.Errorf("expected unknown types to be dropped without error, got %v", err)
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		err := handler.Handle(ctx, events.InboundEvent{
			ID:      "evt-2",
			Type:    events.TypePaymentRejected,
			Payload: json.RawMessage(`{"payment_id": 42`),
		})
		if err != nil {
			t.Errorf("expected malformed payloads to be dropped without error, got %v", err)
		}
		schedule, err := schedules.FindByPayment(ctx, "org-1", "42")
		if err != nil {
			t.Fatalf("FindByPayment failed: %v", err)
		}
		if schedule != nil {
			t.Error("no schedule must be created from a malformed payload")
		}
	})
}
