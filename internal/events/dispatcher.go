package events

import (
	"context"
	"log"
	"time"

	"github.com/finova/collection-engine/internal/dedup"
)

// Dispatcher pulls deliveries from a Source and runs them through the
// handler with exactly-once-effect semantics: duplicates are acknowledged
// without handling, failures are requeued without being marked processed.
type Dispatcher struct {
	source  Source
	dedup   dedup.Deduplicator
	handler Handler
	logger  *log.Logger

	done chan struct{}
}

func NewDispatcher(source Source, deduplicator dedup.Deduplicator, handler Handler, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		source:  source,
		dedup:   deduplicator,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run consumes until the context is cancelled or the source closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	deliveries, err := d.source.Consume(ctx)
	if err != nil {
		return err
	}

	d.logger.Println("Event dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Println("Event dispatcher stopping")
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Println("Event source closed")
				return nil
			}
			d.process(ctx, delivery)
		}
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) process(ctx context.Context, delivery Delivery) {
	event := delivery.Event

	seen, err := d.dedup.AlreadyProcessed(ctx, event.ID)
	if err != nil {
		d.logger.Printf("Dedup check failed for event %s (%s), requeueing: %v", event.ID, event.Type, err)
		d.requeue(delivery)
		return
	}
	if seen {
		d.logger.Printf("Skipping duplicate event %s (%s)", event.ID, event.Type)
		if err := delivery.Ack(); err != nil {
			d.logger.Printf("Failed to ack duplicate event %s: %v", event.ID, err)
		}
		return
	}

	if err := d.handler.Handle(ctx, event); err != nil {
		d.logger.Printf("Error handling event %s (%s): %v", event.ID, event.Type, err)
		d.requeue(delivery)
		return
	}

	// Mark before ack: if the ack is lost, the redelivery is recognized as
	// a duplicate instead of being handled twice.
	if err := d.dedup.MarkProcessed(ctx, event.ID, event.Type, time.Now().UTC()); err != nil {
		d.logger.Printf("Failed to mark event %s processed: %v", event.ID, err)
		d.requeue(delivery)
		return
	}
	if err := delivery.Ack(); err != nil {
		d.logger.Printf("Failed to ack event %s: %v", event.ID, err)
	}
}

func (d *Dispatcher) requeue(delivery Delivery) {
	if err := delivery.Requeue(); err != nil {
		d.logger.Printf("Failed to requeue event %s: %v", delivery.Event.ID, err)
	}
}
