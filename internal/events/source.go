package events

import "context"

// Delivery is one inbound event plus its acknowledgement hooks. Ack removes
// the message from the broker; Requeue returns it for redelivery.
type Delivery struct {
	Event   InboundEvent
	ack     func() error
	requeue func() error
}

func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d *Delivery) Requeue() error {
	if d.requeue == nil {
		return nil
	}
	return d.requeue()
}

// Source is a stream of inbound event deliveries.
type Source interface {
	// Consume starts delivering events. The channel closes when the source
	// shuts down or the context is cancelled.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Handler processes one inbound event. A returned error leaves the event
// unacknowledged so the broker redelivers it.
type Handler interface {
	Handle(ctx context.Context, event InboundEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event InboundEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event InboundEvent) error {
	return f(ctx, event)
}
