package events

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/finova/collection-engine/internal/dedup"
	"github.com/finova/collection-engine/internal/retry"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func inbound(id, eventType string) InboundEvent {
	return InboundEvent{ID: id, Type: eventType, OccurredAt: time.Now().UTC()}
}

func TestDispatcher_ProcessesEachEventOnce(t *testing.T) {
	source := NewMemorySource(8)
	deduper := dedup.NewMemoryDeduplicator()

	var mu sync.Mutex
	handled := make(map[string]int)
	handler := HandlerFunc(func(ctx context.Context, event InboundEvent) error {
		mu.Lock()
		defer mu.Unlock()
		handled[event.ID]++
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := NewDispatcher(source, deduper, handler, testLogger())
	go dispatcher.Run(ctx)

	source.Push(inbound("evt-1", TypePaymentRejected))
	source.Push(inbound("evt-1", TypePaymentRejected)) // broker redelivery

	waitFor(t, func() bool { return len(source.Acked()) == 2 })

	mu.Lock()
	count := handled["evt-1"]
	mu.Unlock()
	if count != 1 {
		t.Errorf("event handled %d times, want 1", count)
	}

	seen, err := deduper.AlreadyProcessed(ctx, "evt-1")
	if err != nil {
		t.Fatalf("AlreadyProcessed failed: %v", err)
	}
	if !seen {
		t.Error("expected the event to be marked processed")
	}

	cancel()
	<-dispatcher.Done()
}

func TestDispatcher_RequeuesOnHandlerError(t *testing.T) {
	source := NewMemorySource(8)
	deduper := dedup.NewMemoryDeduplicator()
	handler := HandlerFunc(func(ctx context.Context, event InboundEvent) error {
		return errors.New("downstream unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := NewDispatcher(source, deduper, handler, testLogger())
	go dispatcher.Run(ctx)

	source.Push(inbound("evt-fail", TypePaymentSettled))

	waitFor(t, func() bool { return len(source.Requeued()) == 1 })

	if len(source.Acked()) != 0 {
		t.Errorf("failed event was acked %d times", len(source.Acked()))
	}
	seen, err := deduper.AlreadyProcessed(ctx, "evt-fail")
	if err != nil {
		t.Fatalf("AlreadyProcessed failed: %v", err)
	}
	if seen {
		t.Error("failed event must not be marked processed")
	}

	cancel()
	<-dispatcher.Done()
}

func TestDispatcher_StopsOnSourceClose(t *testing.T) {
	source := NewMemorySource(1)
	dispatcher := NewDispatcher(source, dedup.NewMemoryDeduplicator(), HandlerFunc(func(ctx context.Context, event InboundEvent) error {
		return nil
	}), testLogger())

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(context.Background()) }()

	source.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on source close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after the source closed")
	}
}

func TestPublisher_PublishesScheduleEvents(t *testing.T) {
	broker := NewMemoryBroker()
	publisher := NewPublisher(broker, nil, testLogger())

	publisher.ScheduleStarted(&retry.Schedule{
		ID:             "sched-1",
		OrganisationID: "org-1",
		PaymentID:      "pay-1",
		State:          retry.StateActive,
	})

	waitFor(t, func() bool { return len(broker.Events()) == 1 })

	event := broker.Events()[0]
	if event.Type != TypeScheduleStarted {
		t.Errorf("event type = %s, want %s", event.Type, TypeScheduleStarted)
	}
	data, ok := event.Payload.(ScheduleEventData)
	if !ok {
		t.Fatalf("payload has type %T, want ScheduleEventData", event.Payload)
	}
	if data.ScheduleID != "sched-1" || data.State != string(retry.StateActive) {
		t.Errorf("payload = %+v", data)
	}
}

func TestPublisher_NilIsSafe(t *testing.T) {
	var publisher *Publisher
	publisher.ScheduleStarted(&retry.Schedule{ID: "sched-1"})
	publisher.ScheduleStopped(&retry.Schedule{ID: "sched-1"})

	withoutBroker := NewPublisher(nil, nil, testLogger())
	withoutBroker.ScheduleSucceeded(&retry.Schedule{ID: "sched-1"})
}
