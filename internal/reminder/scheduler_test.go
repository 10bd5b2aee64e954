package reminder

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/finova/collection-engine/internal/retry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// now is a Wednesday inside the 9-20 window of the base policy.
var now = time.Date(2025, time.September, 10, 10, 0, 0, 0, time.UTC)

type optOutFunc func(ctx context.Context, orgID, clientID string) (bool, error)

func (f optOutFunc) OptedOut(ctx context.Context, orgID, clientID string) (bool, error) {
	return f(ctx, orgID, clientID)
}

func basePolicy() *Policy {
	return &Policy{
		ID:             "rp-1",
		OrganisationID: "org-1",
		Name:           "standard",
		Rules: []Rule{
			{Trigger: TriggerAfterRejection, Channel: "email", TemplateID: "payment-rejected", DelayHours: 24, Order: 1},
			{Trigger: TriggerBeforeRetry, Channel: "sms", TemplateID: "upcoming-retry", DaysBeforeRetry: 2, Order: 2, OnlyIfNoResponse: true},
		},
		CooldownHours:       24,
		MaxRemindersPerDay:  1,
		MaxRemindersPerWeek: 3,
		AllowedStartHour:    9,
		AllowedEndHour:      20,
		AllowedDaysOfWeek:   []int{1, 2, 3, 4, 5},
		RespectOptOut:       true,
		IsActive:            true,
		IsDefault:           true,
	}
}

// baseSchedule was rejected two days ago and has its next retry in five days.
func baseSchedule() *retry.Schedule {
	return &retry.Schedule{
		ID:              "sched-1",
		OrganisationID:  "org-1",
		ClientID:        "client-1",
		State:           retry.StateActive,
		RejectionCount:  1,
		FirstRejectedAt: now.Add(-48 * time.Hour),
		Attempts: []retry.Attempt{
			{ID: "a-2", ScheduleID: "sched-1", AttemptNumber: 2, ScheduledAt: now.AddDate(0, 0, 5), Outcome: retry.OutcomePending},
		},
	}
}

func newTestScheduler(store Store, optOut OptOutChecker) *Scheduler {
	s := NewScheduler(NewResolver(NewMemoryPolicyStore()), store, optOut, nil, nil, testLogger())
	s.SetClock(func() time.Time { return now })
	return s
}

// existing seeds the store with a reminder already attached to the schedule.
func existing(t *testing.T, store Store, ruleOrder int, status Status, scheduledAt time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &Reminder{
		ID:             "rem-" + string(rune('a'+ruleOrder)) + scheduledAt.Format("0102"),
		PolicyID:       "rp-1",
		ScheduleID:     "sched-1",
		OrganisationID: "org-1",
		ClientID:       "client-1",
		Channel:        "email",
		TemplateID:     "payment-rejected",
		RuleOrder:      ruleOrder,
		Status:         status,
		ScheduledAt:    scheduledAt,
		CreatedAt:      scheduledAt,
	})
	if err != nil {
		t.Fatalf("seeding reminder failed: %v", err)
	}
}

func TestNextReminder_FiresAfterRejectionRule(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newTestScheduler(store, nil)

	rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem == nil {
		t.Fatal("expected a reminder, got nil")
	}
	if rem.RuleOrder != 1 || rem.Channel != "email" {
		t.Errorf("fired rule %d via %s, want rule 1 via email", rem.RuleOrder, rem.Channel)
	}
	if rem.Status != StatusPending {
		t.Errorf("status = %s, want %s", rem.Status, StatusPending)
	}
	if !rem.ScheduledAt.Equal(now) {
		t.Errorf("scheduled at %s, want %s", rem.ScheduledAt, now)
	}

	stored, err := store.ListBySchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("ListBySchedule failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored reminder, got %d", len(stored))
	}
}

func TestNextReminder_AfterRejectionDelayNotElapsed(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), nil)

	sched := baseSchedule()
	sched.FirstRejectedAt = now.Add(-2 * time.Hour) // 24h delay not over

	rem, err := s.NextReminder(ctx, sched, basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Errorf("expected no reminder before the rule delay, got rule %d", rem.RuleOrder)
	}
}

func TestNextReminder_OutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), nil)

	t.Run("before allowed hours", func(t *testing.T) {
		early := time.Date(2025, time.September, 10, 8, 0, 0, 0, time.UTC)
		rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), early)
		if err != nil {
			t.Fatalf("NextReminder failed: %v", err)
		}
		if rem != nil {
			t.Error("expected no reminder outside the hour window")
		}
	})

	t.Run("on a weekend", func(t *testing.T) {
		saturday := time.Date(2025, time.September, 13, 10, 0, 0, 0, time.UTC)
		rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), saturday)
		if err != nil {
			t.Fatalf("NextReminder failed: %v", err)
		}
		if rem != nil {
			t.Error("expected no reminder on a disallowed weekday")
		}
	})
}

func TestNextReminder_CooldownBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusSent, now.Add(-time.Hour))
	s := newTestScheduler(store, nil)

	rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Error("expected the cooldown to block a second reminder")
	}
}

func TestNextReminder_DailyCapBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusSent, now.Add(-time.Hour))
	s := newTestScheduler(store, nil)

	policy := basePolicy()
	policy.CooldownHours = 0

	rem, err := s.NextReminder(ctx, baseSchedule(), policy, now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Error("expected the daily cap to block")
	}
}

func TestNextReminder_WeeklyCapBlocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	// Monday of the current week, counted against the weekly budget.
	monday := time.Date(2025, time.September, 8, 10, 0, 0, 0, time.UTC)
	existing(t, store, 1, StatusSent, monday)
	existing(t, store, 3, StatusSent, monday.Add(time.Hour))
	s := newTestScheduler(store, nil)

	policy := basePolicy()
	policy.CooldownHours = 0
	policy.MaxRemindersPerDay = 0
	policy.MaxRemindersPerWeek = 2

	rem, err := s.NextReminder(ctx, baseSchedule(), policy, now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Error("expected the weekly cap to block")
	}
}

func TestNextReminder_FiredRuleDoesNotRepeat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	// Rule 1 already fired last Sunday: outside the cooldown, outside the
	// weekly window, but still on record.
	existing(t, store, 1, StatusSent, now.AddDate(0, 0, -3))
	s := newTestScheduler(store, nil)

	rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	// Rule 2's BEFORE_RETRY window opens two days before the attempt, which
	// is still five days away.
	if rem != nil {
		t.Errorf("expected no reminder, got rule %d", rem.RuleOrder)
	}
}

func TestNextReminder_BeforeRetryWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusSent, now.AddDate(0, 0, -3))
	s := newTestScheduler(store, nil)

	sched := baseSchedule()
	sched.Attempts[0].ScheduledAt = now.AddDate(0, 0, 1)

	rem, err := s.NextReminder(ctx, sched, basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem == nil {
		t.Fatal("expected the BEFORE_RETRY rule to fire")
	}
	if rem.RuleOrder != 2 || rem.Channel != "sms" {
		t.Errorf("fired rule %d via %s, want rule 2 via sms", rem.RuleOrder, rem.Channel)
	}
}

func TestNextReminder_FailedReminderRefires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusFailed, now.AddDate(0, 0, -3))
	s := newTestScheduler(store, nil)

	rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem == nil {
		t.Fatal("expected the failed rule to fire again")
	}
	if rem.RuleOrder != 1 {
		t.Errorf("fired rule %d, want 1", rem.RuleOrder)
	}
}

func TestNextReminder_OnlyIfNoResponseSkipsAfterResponse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	// The customer opened the first reminder.
	existing(t, store, 1, StatusOpened, now.AddDate(0, 0, -3))
	s := newTestScheduler(store, nil)

	sched := baseSchedule()
	sched.Attempts[0].ScheduledAt = now.AddDate(0, 0, 1)

	rem, err := s.NextReminder(ctx, sched, basePolicy(), now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Errorf("expected no reminder after a customer response, got rule %d", rem.RuleOrder)
	}
}

func TestNextReminder_OnlyFirstRejection(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), nil)

	policy := basePolicy()
	policy.Rules = []Rule{
		{Trigger: TriggerAfterRejection, Channel: "email", TemplateID: "payment-rejected", DelayHours: 24, Order: 1, OnlyFirstRejection: true},
	}

	sched := baseSchedule()
	sched.RejectionCount = 2

	rem, err := s.NextReminder(ctx, sched, policy, now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Error("expected the rule to skip repeat rejections")
	}
}

func TestNextReminder_OptOut(t *testing.T) {
	ctx := context.Background()

	t.Run("opted-out client gets nothing", func(t *testing.T) {
		optedOut := optOutFunc(func(ctx context.Context, orgID, clientID string) (bool, error) {
			return true, nil
		})
		s := newTestScheduler(NewMemoryStore(), optedOut)

		rem, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now)
		if err != nil {
			t.Fatalf("NextReminder failed: %v", err)
		}
		if rem != nil {
			t.Error("expected no reminder for an opted-out client")
		}
	})

	t.Run("checker failure propagates", func(t *testing.T) {
		failing := optOutFunc(func(ctx context.Context, orgID, clientID string) (bool, error) {
			return false, errors.New("crm unavailable")
		})
		s := newTestScheduler(NewMemoryStore(), failing)

		if _, err := s.NextReminder(ctx, baseSchedule(), basePolicy(), now); err == nil {
			t.Error("expected the opt-out failure to propagate")
		}
	})
}

func TestNextReminder_InactivePolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(NewMemoryStore(), nil)

	policy := basePolicy()
	policy.IsActive = false

	rem, err := s.NextReminder(ctx, baseSchedule(), policy, now)
	if err != nil {
		t.Fatalf("NextReminder failed: %v", err)
	}
	if rem != nil {
		t.Error("expected no reminder from an inactive policy")
	}
}

func TestEvaluate_ResolvesPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("default policy applies", func(t *testing.T) {
		policies := NewMemoryPolicyStore()
		if err := policies.CreatePolicy(ctx, basePolicy()); err != nil {
			t.Fatalf("CreatePolicy failed: %v", err)
		}
		s := NewScheduler(NewResolver(policies), NewMemoryStore(), nil, nil, nil, testLogger())
		s.SetClock(func() time.Time { return now })

		rem, err := s.Evaluate(ctx, baseSchedule())
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if rem == nil || rem.PolicyID != "rp-1" {
			t.Errorf("expected a reminder from policy rp-1, got %+v", rem)
		}
	})

	t.Run("missing policy surfaces ErrPolicyNotFound", func(t *testing.T) {
		s := NewScheduler(NewResolver(NewMemoryPolicyStore()), NewMemoryStore(), nil, nil, nil, testLogger())
		s.SetClock(func() time.Time { return now })

		if _, err := s.Evaluate(ctx, baseSchedule()); !errors.Is(err, ErrPolicyNotFound) {
			t.Errorf("expected ErrPolicyNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_ClaimDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusPending, now.Add(-time.Minute))

	claimed, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed reminder, got %d", len(claimed))
	}

	again, err := store.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("second ClaimDue failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("reminder handed out twice: %d", len(again))
	}

	released, err := store.ReleaseStaleClaims(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReleaseStaleClaims failed: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
}

func TestMemoryStore_CancelPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	existing(t, store, 1, StatusPending, now)
	existing(t, store, 2, StatusSent, now.Add(-48*time.Hour))

	cancelled, err := store.CancelPending(ctx, "sched-1")
	if err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}
	if cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", cancelled)
	}

	reminders, err := store.ListBySchedule(ctx, "sched-1")
	if err != nil {
		t.Fatalf("ListBySchedule failed: %v", err)
	}
	for _, r := range reminders {
		if r.RuleOrder == 1 && (r.Status != StatusFailed || r.ErrorCode != "CANCELLED") {
			t.Errorf("pending reminder = %s/%s, want FAILED/CANCELLED", r.Status, r.ErrorCode)
		}
		if r.RuleOrder == 2 && r.Status != StatusSent {
			t.Errorf("sent reminder must be untouched, got %s", r.Status)
		}
	}
}
