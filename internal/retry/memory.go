package retry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryPolicyStore is an in-memory PolicyStore for tests and seeding.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Policy
	for _, p := range s.policies {
		if filter.OrganisationID != "" && p.OrganisationID != filter.OrganisationID {
			continue
		}
		if filter.SocieteID != "" && p.SocieteID != filter.SocieteID {
			continue
		}
		if filter.ProductID != "" && p.ProductID != filter.ProductID {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MemoryScheduleStore is an in-memory ScheduleStore for tests.
type MemoryScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	attempts  map[string]*Attempt
	claimedAt map[string]time.Time
}

func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{
		schedules: make(map[string]*Schedule),
		attempts:  make(map[string]*Attempt),
		claimedAt: make(map[string]time.Time),
	}
}

func (s *MemoryScheduleStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	cp.Attempts = nil
	s.schedules[sched.ID] = &cp
	for i := range sched.Attempts {
		a := sched.Attempts[i]
		s.attempts[a.ID] = &a
	}
	return nil
}

func (s *MemoryScheduleStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *MemoryScheduleStore) loadLocked(id string) (*Schedule, error) {
	sched, ok := s.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := *sched
	out.Attempts = nil
	for _, a := range s.attempts {
		if a.ScheduleID == id {
			out.Attempts = append(out.Attempts, *a)
		}
	}
	sort.Slice(out.Attempts, func(i, j int) bool {
		return out.Attempts[i].AttemptNumber < out.Attempts[j].AttemptNumber
	})
	return &out, nil
}

func (s *MemoryScheduleStore) FindByPayment(ctx context.Context, orgID, paymentID string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sched := range s.schedules {
		if sched.OrganisationID == orgID && sched.PaymentID == paymentID {
			return s.loadLocked(id)
		}
	}
	return nil, nil
}

func (s *MemoryScheduleStore) ListActiveByContract(ctx context.Context, orgID, contractID string) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Schedule
	for id, sched := range s.schedules {
		if sched.OrganisationID == orgID && sched.ContractID == contractID && sched.State == StateActive {
			loaded, _ := s.loadLocked(id)
			out = append(out, loaded)
		}
	}
	return out, nil
}

func (s *MemoryScheduleStore) ListActive(ctx context.Context, limit int) ([]*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Schedule
	for id, sched := range s.schedules {
		if sched.State == StateActive {
			loaded, _ := s.loadLocked(id)
			out = append(out, loaded)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryScheduleStore) UpdateState(ctx context.Context, scheduleID string, state State, stopReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return ErrScheduleNotFound
	}
	sched.State = state
	sched.StopReason = stopReason
	sched.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryScheduleStore) IncrementRejections(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return ErrScheduleNotFound
	}
	sched.RejectionCount++
	return nil
}

func (s *MemoryScheduleStore) AddAttempt(ctx context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemoryScheduleStore) GetAttempt(ctx context.Context, attemptID string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryScheduleStore) CompleteAttempt(ctx context.Context, attemptID string, outcome Outcome, rejectionCode string, executedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return ErrScheduleNotFound
	}
	a.Outcome = outcome
	a.RejectionCode = rejectionCode
	a.ExecutedAt = &executedAt
	delete(s.claimedAt, attemptID)
	return nil
}

func (s *MemoryScheduleStore) CancelPendingAttempts(ctx context.Context, scheduleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, a := range s.attempts {
		if a.ScheduleID == scheduleID && a.Outcome == OutcomePending {
			a.Outcome = OutcomeSkipped
			count++
		}
	}
	return count, nil
}

func (s *MemoryScheduleStore) ClaimDueAttempts(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.Outcome != OutcomePending || a.ScheduledAt.After(now) {
			continue
		}
		sched, ok := s.schedules[a.ScheduleID]
		if !ok || sched.State != StateActive {
			continue
		}
		a.Outcome = OutcomeClaimed
		s.claimedAt[a.ID] = now
		out = append(out, *a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryScheduleStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, a := range s.attempts {
		if a.Outcome == OutcomeClaimed && s.claimedAt[id].Before(olderThan) {
			a.Outcome = OutcomePending
			delete(s.claimedAt, id)
			count++
		}
	}
	return count, nil
}
