package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
	"github.com/finova/collection-engine/internal/websocket"
)

// Executor runs claimed work: re-presenting debits through the payment
// processor and handing reminders to the notification sender. Results are fed
// back into the schedulers, which own all state transitions.
type Executor struct {
	retries   *retry.Scheduler
	schedules retry.ScheduleStore
	reminders reminder.Store

	processor    *PaymentProcessorClient
	notification *NotificationClient

	hub    *websocket.Hub
	logger *log.Logger
}

func NewExecutor(
	retries *retry.Scheduler,
	schedules retry.ScheduleStore,
	reminders reminder.Store,
	processor *PaymentProcessorClient,
	notification *NotificationClient,
	hub *websocket.Hub,
	logger *log.Logger,
) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		retries:      retries,
		schedules:    schedules,
		reminders:    reminders,
		processor:    processor,
		notification: notification,
		hub:          hub,
		logger:       logger,
	}
}

// ExecuteAttempt re-presents the payment for one claimed attempt and reports
// the outcome back to the retry scheduler.
func (e *Executor) ExecuteAttempt(ctx context.Context, attempt retry.Attempt) error {
	sched, err := e.schedules.GetSchedule(ctx, attempt.ScheduleID)
	if err != nil {
		return fmt.Errorf("failed to load schedule %s: %w", attempt.ScheduleID, err)
	}

	e.logger.Printf("Executing attempt %d for payment %s (schedule %s)",
		attempt.AttemptNumber, sched.PaymentID, sched.ID)

	result, err := e.processor.RetryPayment(ctx, RetryRequest{
		PaymentID:      sched.PaymentID,
		OrganisationID: sched.OrganisationID,
		AttemptNumber:  attempt.AttemptNumber,
		ScheduleID:     sched.ID,
	})
	if err != nil {
		// Leave the attempt CLAIMED; the stale-claim reaper returns it to
		// PENDING for a later pass.
		return fmt.Errorf("attempt %s execution failed: %w", attempt.ID, err)
	}

	if _, err := e.retries.CompleteAttempt(ctx, attempt.ID, result.Success, result.RejectionCode); err != nil {
		return fmt.Errorf("failed to complete attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// SendReminder delivers one claimed reminder and records the result.
func (e *Executor) SendReminder(ctx context.Context, rem reminder.Reminder) error {
	e.logger.Printf("Sending reminder %s (channel=%s, template=%s)", rem.ID, rem.Channel, rem.TemplateID)

	result, err := e.notification.Send(ctx, SendRequest{
		ReminderID:     rem.ID,
		OrganisationID: rem.OrganisationID,
		ClientID:       rem.ClientID,
		Channel:        rem.Channel,
		TemplateID:     rem.TemplateID,
	})
	if err != nil {
		if updateErr := e.reminders.UpdateStatus(ctx, rem.ID, reminder.StatusFailed, "", "SEND_ERROR", nil); updateErr != nil {
			e.logger.Printf("Failed to mark reminder %s failed: %v", rem.ID, updateErr)
		}
		e.broadcastReminder(rem, reminder.StatusFailed, "SEND_ERROR")
		return fmt.Errorf("reminder %s send failed: %w", rem.ID, err)
	}

	if result.ErrorCode != "" {
		if err := e.reminders.UpdateStatus(ctx, rem.ID, reminder.StatusFailed, "", result.ErrorCode, nil); err != nil {
			return fmt.Errorf("failed to mark reminder %s failed: %w", rem.ID, err)
		}
		e.broadcastReminder(rem, reminder.StatusFailed, result.ErrorCode)
		return nil
	}

	now := time.Now().UTC()
	if err := e.reminders.UpdateStatus(ctx, rem.ID, reminder.StatusSent, result.MessageID, "", &now); err != nil {
		return fmt.Errorf("failed to mark reminder %s sent: %w", rem.ID, err)
	}
	e.broadcastReminder(rem, reminder.StatusSent, "")
	return nil
}

func (e *Executor) broadcastReminder(rem reminder.Reminder, status reminder.Status, errorCode string) {
	if e.hub == nil {
		return
	}
	event := websocket.EventReminderSent
	if status == reminder.StatusFailed {
		event = websocket.EventReminderFailed
	}
	e.hub.BroadcastEvent(websocket.TypeReminder, event, websocket.ReminderData{
		ReminderID:     rem.ID,
		ScheduleID:     rem.ScheduleID,
		OrganisationID: rem.OrganisationID,
		Channel:        rem.Channel,
		TemplateID:     rem.TemplateID,
		Status:         string(status),
		ErrorCode:      errorCode,
	})
}
