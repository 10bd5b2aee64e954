package reminder

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

// MemoryStore is an in-memory reminder Store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	reminders map[string]*Reminder
	claimedAt map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[string]*Reminder),
		claimedAt: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reminders[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListBySchedule(ctx context.Context, scheduleID string) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.ScheduleID == scheduleID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, providerMessageID, errorCode string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrReminderNotFound
	}
	r.Status = status
	if providerMessageID != "" {
		r.ProviderMessageID = providerMessageID
	}
	if errorCode != "" {
		r.ErrorCode = errorCode
	}
	if sentAt != nil {
		r.SentAt = sentAt
	}
	delete(s.claimedAt, id)
	return nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, scheduleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.reminders {
		if r.ScheduleID == scheduleID && r.Status == StatusPending {
			r.Status = StatusFailed
			r.ErrorCode = "CANCELLED"
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.Status != StatusPending || r.ScheduledAt.After(now) {
			continue
		}
		r.Status = StatusSending
		s.claimedAt[r.ID] = now
		out = append(out, *r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, r := range s.reminders {
		if r.Status == StatusSending && s.claimedAt[id].Before(olderThan) {
			r.Status = StatusPending
			delete(s.claimedAt, id)
			count++
		}
	}
	return count, nil
}
