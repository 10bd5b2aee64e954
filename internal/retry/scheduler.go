package retry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/finova/collection-engine/internal/audit"
)

// Events receives outbound notifications for schedule transitions. All
// methods are fire-and-forget; a nil Events is allowed.
type Events interface {
	ScheduleStarted(s *Schedule)
	AttemptScheduled(s *Schedule, a *Attempt)
	ScheduleSucceeded(s *Schedule)
	ScheduleExhausted(s *Schedule)
	ScheduleStopped(s *Schedule)
}

// Rejection is the business payload of a payment.rejected event.
type Rejection struct {
	OrganisationID string
	PaymentID      string
	ContractID     string
	ClientID       string
	SocieteID      string
	ProductID      string
	Code           string
	OccurredAt     time.Time
}

// StopEvent is the business payload of a stop-condition event. PaymentID
// targets a single schedule; ContractID targets every active schedule of the
// contract.
type StopEvent struct {
	Kind           StopKind
	OrganisationID string
	PaymentID      string
	ContractID     string
}

// Scheduler drives the retry state machine: ACTIVE -> SUCCEEDED | EXHAUSTED
// | STOPPED. All transitions re-derive state from storage so replaying an
// event is harmless, and transitions out of terminal states are ignored.
type Scheduler struct {
	resolver *Resolver
	policies PolicyStore
	store    ScheduleStore
	audit    audit.Recorder
	events   Events
	logger   *log.Logger
	now      func() time.Time
}

func NewScheduler(resolver *Resolver, policies PolicyStore, store ScheduleStore, recorder audit.Recorder, events Events, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		resolver: resolver,
		policies: policies,
		store:    store,
		audit:    recorder,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the scheduler clock. Used in tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// HandleRejection starts a schedule for the first qualifying rejection of a
// payment. A rejection with a non-retryable code produces a schedule that is
// STOPPED on creation and never becomes ACTIVE. Subsequent rejections for
// the same payment only bump the rejection counter.
func (s *Scheduler) HandleRejection(ctx context.Context, rej Rejection) (*Schedule, error) {
	existing, err := s.store.FindByPayment(ctx, rej.OrganisationID, rej.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up schedule for payment %s: %w", rej.PaymentID, err)
	}
	if existing != nil {
		if existing.State == StateActive {
			if err := s.store.IncrementRejections(ctx, existing.ID); err != nil {
				s.logger.Printf("Error incrementing rejection count for schedule %s: %v", existing.ID, err)
			}
		}
		return s.store.GetSchedule(ctx, existing.ID)
	}

	policy, err := s.resolver.Resolve(ctx, rej.OrganisationID, rej.SocieteID, rej.ProductID)
	if err != nil {
		return nil, err
	}

	occurredAt := rej.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	schedule := &Schedule{
		ID:              uuid.New().String(),
		OrganisationID:  rej.OrganisationID,
		PaymentID:       rej.PaymentID,
		ContractID:      rej.ContractID,
		ClientID:        rej.ClientID,
		SocieteID:       rej.SocieteID,
		ProductID:       rej.ProductID,
		PolicyID:        policy.ID,
		State:           StateActive,
		InitialCode:     rej.Code,
		RejectionCount:  1,
		FirstRejectedAt: occurredAt,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}

	if !policy.Retryable(rej.Code) {
		schedule.State = StateStopped
		schedule.StopReason = "non-retryable code"
		if err := s.store.CreateSchedule(ctx, schedule); err != nil {
			return nil, fmt.Errorf("failed to create schedule: %w", err)
		}
		s.record(ctx, schedule.ID, "create", nil, schedule)
		s.logger.Printf("Schedule %s stopped on creation: non-retryable code %s (payment=%s)",
			schedule.ID, rej.Code, rej.PaymentID)
		if s.events != nil {
			s.events.ScheduleStopped(schedule)
		}
		return schedule, nil
	}

	attempt := Attempt{
		ID:            uuid.New().String(),
		ScheduleID:    schedule.ID,
		AttemptNumber: 1,
		ScheduledAt:   occurredAt.AddDate(0, 0, policy.FirstDelay()),
		Outcome:       OutcomePending,
	}
	schedule.Attempts = []Attempt{attempt}

	if err := s.store.CreateSchedule(ctx, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	s.record(ctx, schedule.ID, "create", nil, schedule)
	s.logger.Printf("Schedule %s started for payment %s: attempt 1 at %s (policy=%s)",
		schedule.ID, rej.PaymentID, attempt.ScheduledAt.Format(time.RFC3339), policy.Name)

	if s.events != nil {
		s.events.ScheduleStarted(schedule)
		s.events.AttemptScheduled(schedule, &attempt)
	}
	return schedule, nil
}

// CompleteAttempt records the outcome of an executed attempt and advances
// the state machine: success terminates the schedule as SUCCEEDED; failure
// either exhausts it (max attempts reached or max total days elapsed) or
// schedules the next attempt from the explicit delay list.
func (s *Scheduler) CompleteAttempt(ctx context.Context, attemptID string, success bool, rejectionCode string) (*Schedule, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.store.GetSchedule(ctx, attempt.ScheduleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	outcome := OutcomeFailed
	if success {
		outcome = OutcomeSucceeded
	}
	if err := s.store.CompleteAttempt(ctx, attemptID, outcome, rejectionCode, now); err != nil {
		return nil, fmt.Errorf("failed to record attempt outcome: %w", err)
	}

	if schedule.State.Terminal() {
		// Late result for an already-terminated schedule (e.g. a settled
		// event won the race). The outcome is recorded, nothing else moves.
		s.logger.Printf("Ignoring attempt %s result: schedule %s already %s", attemptID, schedule.ID, schedule.State)
		return s.store.GetSchedule(ctx, schedule.ID)
	}

	if success {
		return s.transition(ctx, schedule, StateSucceeded, "")
	}

	if err := s.store.IncrementRejections(ctx, schedule.ID); err != nil {
		s.logger.Printf("Error incrementing rejection count for schedule %s: %v", schedule.ID, err)
	}

	elapsedDays := 0
	if first := schedule.FirstAttemptAt(); !first.IsZero() {
		elapsedDays = int(now.Sub(first).Hours() / 24)
	}

	policy, err := s.policies.GetPolicy(ctx, schedule.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy %s: %w", schedule.PolicyID, err)
	}

	if attempt.AttemptNumber >= policy.MaxAttempts || elapsedDays > policy.MaxTotalDays {
		return s.transition(ctx, schedule, StateExhausted, "")
	}

	next := Attempt{
		ID:            uuid.New().String(),
		ScheduleID:    schedule.ID,
		AttemptNumber: attempt.AttemptNumber + 1,
		ScheduledAt:   attempt.ScheduledAt.AddDate(0, 0, policy.DelayAfter(attempt.AttemptNumber)),
		Outcome:       OutcomePending,
	}
	if err := s.store.AddAttempt(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to schedule attempt %d: %w", next.AttemptNumber, err)
	}

	updated, err := s.store.GetSchedule(ctx, schedule.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, schedule.ID, "attempt_scheduled", schedule, updated)
	s.logger.Printf("Schedule %s: attempt %d scheduled at %s",
		schedule.ID, next.AttemptNumber, next.ScheduledAt.Format(time.RFC3339))
	if s.events != nil {
		s.events.AttemptScheduled(updated, &next)
	}
	return updated, nil
}

// HandleStop applies an external stop condition. Only ACTIVE schedules whose
// policy enables the matching stopOn flag transition to STOPPED; pending
// attempts are cancelled, claimed ones run to completion.
func (s *Scheduler) HandleStop(ctx context.Context, ev StopEvent) ([]*Schedule, error) {
	var schedules []*Schedule
	switch {
	case ev.PaymentID != "":
		schedule, err := s.store.FindByPayment(ctx, ev.OrganisationID, ev.PaymentID)
		if err != nil {
			return nil, err
		}
		if schedule != nil {
			schedules = append(schedules, schedule)
		}
	case ev.ContractID != "":
		list, err := s.store.ListActiveByContract(ctx, ev.OrganisationID, ev.ContractID)
		if err != nil {
			return nil, err
		}
		schedules = list
	default:
		return nil, fmt.Errorf("stop event carries neither payment nor contract id")
	}

	var stopped []*Schedule
	for _, schedule := range schedules {
		if schedule.State != StateActive {
			s.logger.Printf("Ignoring %s for schedule %s in state %s", ev.Kind, schedule.ID, schedule.State)
			continue
		}

		policy, err := s.policies.GetPolicy(ctx, schedule.PolicyID)
		if err != nil {
			return stopped, fmt.Errorf("failed to load policy %s: %w", schedule.PolicyID, err)
		}
		if !policy.StopsOn(ev.Kind) {
			s.logger.Printf("Policy %s does not stop on %s, schedule %s stays active", policy.Name, ev.Kind, schedule.ID)
			continue
		}

		cancelled, err := s.store.CancelPendingAttempts(ctx, schedule.ID)
		if err != nil {
			return stopped, fmt.Errorf("failed to cancel pending attempts: %w", err)
		}
		if cancelled > 0 {
			s.logger.Printf("Cancelled %d pending attempt(s) of schedule %s", cancelled, schedule.ID)
		}

		updated, err := s.transition(ctx, schedule, StateStopped, ev.Kind.Reason())
		if err != nil {
			return stopped, err
		}
		stopped = append(stopped, updated)
	}
	return stopped, nil
}

func (s *Scheduler) transition(ctx context.Context, schedule *Schedule, state State, stopReason string) (*Schedule, error) {
	if err := s.store.UpdateState(ctx, schedule.ID, state, stopReason); err != nil {
		return nil, fmt.Errorf("failed to transition schedule %s to %s: %w", schedule.ID, state, err)
	}

	updated, err := s.store.GetSchedule(ctx, schedule.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, schedule.ID, "transition_"+string(state), schedule, updated)
	s.logger.Printf("Schedule %s: %s -> %s", schedule.ID, schedule.State, state)

	if s.events != nil {
		switch state {
		case StateSucceeded:
			s.events.ScheduleSucceeded(updated)
		case StateExhausted:
			s.events.ScheduleExhausted(updated)
		case StateStopped:
			s.events.ScheduleStopped(updated)
		}
	}
	return updated, nil
}

func (s *Scheduler) record(ctx context.Context, scheduleID, action string, before, after *Schedule) {
	if s.audit == nil {
		return
	}
	entry := audit.NewEntry("retry_schedule", scheduleID, action, "collection-engine")
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	entry.After = audit.Snapshot(after)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Printf("Error writing retry audit entry: %v", err)
	}
}
