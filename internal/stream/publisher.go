// Package stream publishes booking lifecycle events to downstream
// collaborators. Delivery is best-effort: a publish failure is logged and
// never rolls back the state transition it follows.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/evently/booking-engine/internal/model"
)

// Publisher delivers one lifecycle event to a downstream channel.
type Publisher interface {
	Publish(ctx context.Context, ev model.LifecycleEvent) error
	Close() error
}

// AMQPPublisher fans lifecycle events out to the notification consumers via
// a RabbitMQ fanout exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials RabbitMQ and declares the fanout exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends one lifecycle event to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, ev model.LifecycleEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lifecycle event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// KafkaPublisher appends lifecycle events to the analytics topic, keyed by
// event ID so one event's transitions stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher constructs a KafkaPublisher for the given brokers and
// topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish appends one lifecycle event to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, ev model.LifecycleEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lifecycle event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EventID),
		Value: body,
	})
	if err != nil {
		return fmt.Errorf("write lifecycle event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Multi fans one lifecycle event out to several publishers, logging each
// failure and never returning one: downstream delivery must not disturb the
// booking flow.
type Multi struct {
	targets []Publisher
	log     zerolog.Logger
}

// NewMulti constructs a Multi over the given publishers. Nil entries are
// skipped, so disabled channels can simply be left out of the wiring.
func NewMulti(log zerolog.Logger, targets ...Publisher) *Multi {
	var active []Publisher
	for _, t := range targets {
		if t != nil {
			active = append(active, t)
		}
	}
	return &Multi{targets: active, log: log}
}

// Publish delivers the event to every target, best-effort.
func (m *Multi) Publish(ctx context.Context, ev model.LifecycleEvent) error {
	for _, t := range m.targets {
		if err := t.Publish(ctx, ev); err != nil {
			m.log.Warn().Err(err).
				Str("entity_type", ev.EntityType).
				Str("entity_id", ev.EntityID).
				Str("new_status", ev.NewStatus).
				Msg("lifecycle publish failed")
		}
	}
	return nil
}

// Close closes every target.
func (m *Multi) Close() error {
	var first error
	for _, t := range m.targets {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
