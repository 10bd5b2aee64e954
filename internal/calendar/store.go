package calendar

import (
	"context"
	"errors"
	"sync"
)

// ErrZoneNotFound is returned when a referenced holiday zone does not exist
// or is inactive.
var ErrZoneNotFound = errors.New("holiday zone not found")

// ZoneStore loads holiday zones with their active holiday snapshot.
type ZoneStore interface {
	GetZone(ctx context.Context, zoneID string) (*Zone, error)
	SaveZone(ctx context.Context, zone *Zone) error
}

// MemoryZoneStore is an in-memory ZoneStore for tests and seeding.
type MemoryZoneStore struct {
	mu    sync.RWMutex
	zones map[string]*Zone
}

func NewMemoryZoneStore() *MemoryZoneStore {
	return &MemoryZoneStore{zones: make(map[string]*Zone)}
}

func (s *MemoryZoneStore) GetZone(ctx context.Context, zoneID string) (*Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zone, ok := s.zones[zoneID]
	if !ok || !zone.IsActive {
		return nil, ErrZoneNotFound
	}

	// Snapshot with only active holidays.
	out := *zone
	out.Holidays = nil
	for _, h := range zone.Holidays {
		if h.IsActive {
			out.Holidays = append(out.Holidays, h)
		}
	}
	return &out, nil
}

func (s *MemoryZoneStore) SaveZone(ctx context.Context, zone *Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zone.ID] = zone
	return nil
}
