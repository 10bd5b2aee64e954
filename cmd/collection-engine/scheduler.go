package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finova/collection-engine/internal/cache"
	"github.com/finova/collection-engine/internal/config"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
	"github.com/finova/collection-engine/internal/websocket"
)

// BatchResult summarizes one scheduler pass.
type BatchResult struct {
	AttemptsClaimed    int           `json:"attempts_claimed"`
	AttemptsSucceeded  int           `json:"attempts_succeeded"`
	AttemptsFailed     int           `json:"attempts_failed"`
	RemindersSent      int           `json:"reminders_sent"`
	RemindersFailed    int           `json:"reminders_failed"`
	SchedulesReviewed  int           `json:"schedules_reviewed"`
	RemindersScheduled int           `json:"reminders_scheduled"`
	Duration           time.Duration `json:"-"`
	DurationText       string        `json:"duration"`
}

// SchedulerStatus is the /scheduler/status payload.
type SchedulerStatus struct {
	Running      bool         `json:"running"`
	Enabled      bool         `json:"enabled"`
	TickInterval string       `json:"tick_interval"`
	LastRun      *time.Time   `json:"last_run,omitempty"`
	NextRun      *time.Time   `json:"next_run,omitempty"`
	LastResult   *BatchResult `json:"last_result,omitempty"`
}

// Scheduler is the ticker loop driving due work: claimed retry attempts are
// executed, claimed reminders are sent, and active schedules are reviewed for
// new reminders.
type Scheduler struct {
	cfg       *config.Config
	schedules retry.ScheduleStore
	reminders reminder.Store
	evaluator *reminder.Scheduler
	executor  *Executor
	locks     *cache.Client
	hub       *websocket.Hub
	logger    *log.Logger

	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	lastRun    *time.Time
	nextRun    *time.Time
	lastResult *BatchResult
}

func NewScheduler(
	cfg *config.Config,
	schedules retry.ScheduleStore,
	reminders reminder.Store,
	evaluator *reminder.Scheduler,
	executor *Executor,
	locks *cache.Client,
	hub *websocket.Hub,
	logger *log.Logger,
) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		schedules: schedules,
		reminders: reminders,
		evaluator: evaluator,
		executor:  executor,
		locks:     locks,
		hub:       hub,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scheduler background processing
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Printf("Starting scheduler with tick interval: %v, batch size: %d",
		s.cfg.TickInterval, s.cfg.BatchSize)

	s.wg.Add(1)
	go s.run()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Println("Stopping scheduler, waiting for current batch to complete...")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Println("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	next := time.Now().Add(s.cfg.TickInterval)
	s.mu.Lock()
	s.nextRun = &next
	s.mu.Unlock()

	for {
		select {
		case <-s.stopCh:
			s.logger.Println("Scheduler received stop signal")
			return
		case <-ticker.C:
			if s.cfg.SchedulerEnabled {
				s.tick()
			}

			next := time.Now().Add(s.cfg.TickInterval)
			s.mu.Lock()
			s.nextRun = &next
			s.mu.Unlock()
		}
	}
}

// tick executes one scheduling cycle
func (s *Scheduler) tick() *BatchResult {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	started := time.Now()
	s.mu.Lock()
	s.lastRun = &started
	s.mu.Unlock()

	result := &BatchResult{}

	s.runDueAttempts(ctx, result)
	s.runDueReminders(ctx, result)
	s.reviewSchedules(ctx, result)

	result.Duration = time.Since(started)
	result.DurationText = result.Duration.String()

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	s.logger.Printf("Scheduler tick done: %d attempts (%d ok, %d failed), %d reminders sent, %d schedules reviewed, %d reminders scheduled in %v",
		result.AttemptsClaimed, result.AttemptsSucceeded, result.AttemptsFailed,
		result.RemindersSent, result.SchedulesReviewed, result.RemindersScheduled, result.Duration)

	if s.hub != nil {
		s.hub.BroadcastEvent(websocket.TypeScheduler, websocket.EventTickCompleted, websocket.SchedulerData{
			AttemptsClaimed:   result.AttemptsClaimed,
			RemindersClaimed:  result.RemindersSent + result.RemindersFailed,
			SchedulesReviewed: result.SchedulesReviewed,
			Duration:          result.DurationText,
		})
	}
	return result
}

func (s *Scheduler) runDueAttempts(ctx context.Context, result *BatchResult) {
	attempts, err := s.schedules.ClaimDueAttempts(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("Error claiming due attempts: %v", err)
		return
	}
	result.AttemptsClaimed = len(attempts)

	for _, attempt := range attempts {
		if err := s.executor.ExecuteAttempt(ctx, attempt); err != nil {
			s.logger.Printf("Error executing attempt %s: %v", attempt.ID, err)
			result.AttemptsFailed++
			continue
		}
		result.AttemptsSucceeded++
	}
}

func (s *Scheduler) runDueReminders(ctx context.Context, result *BatchResult) {
	reminders, err := s.reminders.ClaimDue(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("Error claiming due reminders: %v", err)
		return
	}

	for _, rem := range reminders {
		if err := s.executor.SendReminder(ctx, rem); err != nil {
			s.logger.Printf("Error sending reminder %s: %v", rem.ID, err)
			result.RemindersFailed++
			continue
		}
		result.RemindersSent++
	}
}

// reviewSchedules runs the reminder evaluator over active schedules. Each
// schedule is guarded by a short Redis lock so horizontally scaled instances
// never evaluate the same schedule concurrently.
func (s *Scheduler) reviewSchedules(ctx context.Context, result *BatchResult) {
	active, err := s.schedules.ListActive(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Printf("Error listing active schedules: %v", err)
		return
	}
	result.SchedulesReviewed = len(active)

	for _, sched := range active {
		release, ok := s.lockSchedule(ctx, sched.ID)
		if !ok {
			continue
		}

		rem, err := s.evaluator.Evaluate(ctx, sched)
		release()
		if err != nil {
			if errors.Is(err, reminder.ErrPolicyNotFound) {
				continue
			}
			s.logger.Printf("Error evaluating reminders for schedule %s: %v", sched.ID, err)
			continue
		}
		if rem != nil {
			result.RemindersScheduled++
		}
	}
}

func (s *Scheduler) lockSchedule(ctx context.Context, scheduleID string) (func(), bool) {
	if s.locks == nil {
		return func() {}, true
	}
	key := "lock:schedule:" + scheduleID
	token := uuid.New().String()
	ok, err := s.locks.AcquireLock(ctx, key, token, 30*time.Second)
	if err != nil {
		s.logger.Printf("Error acquiring lock for schedule %s: %v", scheduleID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locks.ReleaseLock(ctx, key, token); err != nil {
			s.logger.Printf("Error releasing lock for schedule %s: %v", scheduleID, err)
		}
	}, true
}

// TriggerManual runs one cycle outside the ticker.
func (s *Scheduler) TriggerManual() (*BatchResult, error) {
	return s.tick(), nil
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SchedulerStatus{
		Running:      s.running,
		Enabled:      s.cfg.SchedulerEnabled,
		TickInterval: s.cfg.TickInterval.String(),
		LastRun:      s.lastRun,
		NextRun:      s.nextRun,
		LastResult:   s.lastResult,
	}
}

// ReleaseStale returns attempts and reminders stuck in their claimed state to
// PENDING. Wired to a cron job.
func (s *Scheduler) ReleaseStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.cfg.ClaimTimeout)
	if n, err := s.schedules.ReleaseStaleClaims(ctx, cutoff); err != nil {
		s.logger.Printf("Error releasing stale attempt claims: %v", err)
	} else if n > 0 {
		s.logger.Printf("Released %d stale attempt claims", n)
	}
	if n, err := s.reminders.ReleaseStaleClaims(ctx, cutoff); err != nil {
		s.logger.Printf("Error releasing stale reminder claims: %v", err)
	} else if n > 0 {
		s.logger.Printf("Released %d stale reminder claims", n)
	}
}
