package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSource consumes inbound payment events from a RabbitMQ topic exchange.
// Acknowledgements are manual so the dispatcher controls redelivery.
type AMQPSource struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *log.Logger
}

// NewAMQPSource connects, declares the exchange and queue, and binds the
// inbound routing keys.
func NewAMQPSource(amqpURL, exchange, queue string, logger *log.Logger) (*AMQPSource, error) {
	if logger == nil {
		logger = log.Default()
	}

	conn, err := amqp.DialConfig(amqpURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	for _, key := range []string{TypePaymentRejected, TypePaymentSettled, TypeContractCancelled, TypeMandateRevoked} {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	return &AMQPSource{conn: conn, ch: ch, queue: q.Name, logger: logger}, nil
}

func (s *AMQPSource) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := s.ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				delivery, err := s.decode(msg)
				if err != nil {
					// A malformed message never becomes valid; drop it.
					s.logger.Printf("Dropping undecodable message on %s: %v", msg.RoutingKey, err)
					msg.Ack(false)
					continue
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *AMQPSource) decode(msg amqp.Delivery) (Delivery, error) {
	var event InboundEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return Delivery{}, fmt.Errorf("invalid event body: %w", err)
	}
	if event.Type == "" {
		event.Type = msg.RoutingKey
	}
	if event.ID == "" {
		event.ID = msg.MessageId
	}
	if event.ID == "" {
		return Delivery{}, fmt.Errorf("event on %s has no id", msg.RoutingKey)
	}
	return Delivery{
		Event:   event,
		ack:     func() error { return msg.Ack(false) },
		requeue: func() error { return msg.Nack(false, true) },
	}, nil
}

func (s *AMQPSource) Close() error {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// AMQPPublisher publishes outbound events to a topic exchange, routing key =
// event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event OutboundEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   event.ID,
			Timestamp:   event.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
