package reminder

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/finova/collection-engine/internal/audit"
	"github.com/finova/collection-engine/internal/retry"
)

// OptOutChecker asks the CRM collaborator whether a client refused payment
// communications. A nil checker means nobody has opted out.
type OptOutChecker interface {
	OptedOut(ctx context.Context, orgID, clientID string) (bool, error)
}

// Events receives outbound notifications for scheduled reminders.
type Events interface {
	ReminderScheduled(r *Reminder)
}

// Scheduler decides whether, when and which reminder to emit next for a
// retry schedule. At most one reminder is scheduled per invocation; delivery
// callbacks never re-trigger scheduling, the next tick re-evaluates from
// current state.
type Scheduler struct {
	resolver *Resolver
	store    Store
	optOut   OptOutChecker
	audit    audit.Recorder
	events   Events
	logger   *log.Logger
	now      func() time.Time
}

func NewScheduler(resolver *Resolver, store Store, optOut OptOutChecker, recorder audit.Recorder, events Events, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		resolver: resolver,
		store:    store,
		optOut:   optOut,
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

// Evaluate resolves the applicable policy and schedules the next reminder
// for the retry schedule, if any.
func (s *Scheduler) Evaluate(ctx context.Context, sched *retry.Schedule) (*Reminder, error) {
	policy, err := s.resolver.Resolve(ctx, sched.OrganisationID, sched.SocieteID, sched.ProductID)
	if err != nil {
		return nil, err
	}
	return s.NextReminder(ctx, sched, policy, s.now())
}

// NextReminder walks the policy's trigger rules in order and creates a
// PENDING reminder for the first rule whose trigger condition and every
// throttle gate pass. It returns (nil, nil) when nothing is due.
func (s *Scheduler) NextReminder(ctx context.Context, sched *retry.Schedule, policy *Policy, now time.Time) (*Reminder, error) {
	if !policy.IsActive || len(policy.Rules) == 0 {
		return nil, nil
	}

	if policy.RespectOptOut && s.optOut != nil && sched.ClientID != "" {
		optedOut, err := s.optOut.OptedOut(ctx, sched.OrganisationID, sched.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to check opt-out: %w", err)
		}
		if optedOut {
			s.logger.Printf("Client %s opted out, no reminder for schedule %s", sched.ClientID, sched.ID)
			return nil, nil
		}
	}

	if !policy.WithinWindow(now) {
		return nil, nil
	}

	existing, err := s.store.ListBySchedule(ctx, sched.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}

	if !s.throttlesPass(sched.ID, policy, existing, now) {
		return nil, nil
	}

	responded := false
	firedRules := make(map[int]bool)
	for i := range existing {
		r := &existing[i]
		if r.Status.Responded() {
			responded = true
		}
		if r.Status != StatusFailed {
			firedRules[r.RuleOrder] = true
		}
	}

	rules := make([]Rule, len(policy.Rules))
	copy(rules, policy.Rules)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })

	for _, rule := range rules {
		if firedRules[rule.Order] {
			continue
		}
		if rule.OnlyFirstRejection && sched.RejectionCount > 1 {
			continue
		}
		if rule.OnlyIfNoResponse && responded {
			continue
		}
		if !s.triggerMatches(rule, sched, now) {
			continue
		}
		return s.schedule(ctx, sched, policy, rule, now)
	}
	return nil, nil
}

// throttlesPass enforces cooldown and the daily/weekly caps. FAILED
// reminders do not count against any of them.
func (s *Scheduler) throttlesPass(scheduleID string, policy *Policy, existing []Reminder, now time.Time) bool {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -isoWeekdayOffset(now))

	var today, thisWeek int
	for i := range existing {
		r := &existing[i]
		if r.Status == StatusFailed {
			continue
		}
		at := r.EffectiveAt()
		if policy.CooldownHours > 0 && now.Sub(at) < time.Duration(policy.CooldownHours)*time.Hour {
			s.logger.Printf("Cooldown active for schedule %s (last reminder at %s)", scheduleID, at.Format(time.RFC3339))
			return false
		}
		if !at.Before(startOfDay) {
			today++
		}
		if !at.Before(startOfWeek) {
			thisWeek++
		}
	}

	if policy.MaxRemindersPerDay > 0 && today >= policy.MaxRemindersPerDay {
		return false
	}
	if policy.MaxRemindersPerWeek > 0 && thisWeek >= policy.MaxRemindersPerWeek {
		return false
	}
	return true
}

func (s *Scheduler) triggerMatches(rule Rule, sched *retry.Schedule, now time.Time) bool {
	switch rule.Trigger {
	case TriggerAfterRejection:
		if sched.FirstRejectedAt.IsZero() {
			return false
		}
		return !now.Before(sched.FirstRejectedAt.Add(time.Duration(rule.DelayHours) * time.Hour))
	case TriggerBeforeRetry:
		next := sched.NextPendingAttempt()
		if next == nil {
			return false
		}
		windowStart := next.ScheduledAt.AddDate(0, 0, -rule.DaysBeforeRetry)
		return !now.Before(windowStart) && now.Before(next.ScheduledAt)
	}
	return false
}

func (s *Scheduler) schedule(ctx context.Context, sched *retry.Schedule, policy *Policy, rule Rule, now time.Time) (*Reminder, error) {
	r := &Reminder{
		ID:             uuid.New().String(),
		PolicyID:       policy.ID,
		ScheduleID:     sched.ID,
		OrganisationID: sched.OrganisationID,
		ClientID:       sched.ClientID,
		Channel:        rule.Channel,
		TemplateID:     rule.TemplateID,
		RuleOrder:      rule.Order,
		Status:         StatusPending,
		ScheduledAt:    now,
		CreatedAt:      now,
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}

	s.logger.Printf("Reminder %s scheduled for schedule %s (channel=%s, rule=%d)", r.ID, sched.ID, r.Channel, rule.Order)
	s.record(ctx, r)
	if s.events != nil {
		s.events.ReminderScheduled(r)
	}
	return r, nil
}

func (s *Scheduler) record(ctx context.Context, r *Reminder) {
	if s.audit == nil {
		return
	}
	entry := audit.NewEntry("reminder", r.ID, "schedule", "collection-engine")
	entry.After = audit.Snapshot(r)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Printf("Error writing reminder audit entry: %v", err)
	}
}

// isoWeekdayOffset returns days since Monday for the given instant.
func isoWeekdayOffset(t time.Time) int {
	iso := int(t.Weekday())
	if iso == 0 {
		iso = 7
	}
	return iso - 1
}
