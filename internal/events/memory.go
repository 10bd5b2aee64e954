package events

import (
	"context"
	"sync"
)

// MemorySource is an in-memory Source for tests. Push queues a delivery;
// Acked and Requeued report what the dispatcher did with it.
type MemorySource struct {
	mu       sync.Mutex
	ch       chan Delivery
	acked    []string
	requeued []string
}

func NewMemorySource(buffer int) *MemorySource {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemorySource{ch: make(chan Delivery, buffer)}
}

func (s *MemorySource) Push(event InboundEvent) {
	s.ch <- Delivery{
		Event: event,
		ack: func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.acked = append(s.acked, event.ID)
			return nil
		},
		requeue: func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.requeued = append(s.requeued, event.ID)
			return nil
		},
	}
}

func (s *MemorySource) Consume(ctx context.Context) (<-chan Delivery, error) {
	return s.ch, nil
}

func (s *MemorySource) Close() error {
	close(s.ch)
	return nil
}

func (s *MemorySource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.acked))
	copy(out, s.acked)
	return out
}

func (s *MemorySource) Requeued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requeued))
	copy(out, s.requeued)
	return out
}

// MemoryBroker records published events for tests.
type MemoryBroker struct {
	mu     sync.Mutex
	events []OutboundEvent
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (b *MemoryBroker) Publish(ctx context.Context, event OutboundEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *MemoryBroker) Events() []OutboundEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OutboundEvent, len(b.events))
	copy(out, b.events)
	return out
}
