package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"imagelens/internal/model"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener yields a fresh channel for each publish.
type ChannelOpener func() (Channel, error)

// EventPublisher sends one JSON message per finished analysis. With no
// exchange configured, messages go through the default exchange to a durable
// queue named after the routing key base.
type EventPublisher struct {
	open       ChannelOpener
	exchange   string
	routingKey string
}

func NewEventPublisher(conn *amqp.Connection, exchange, routingKey string) *EventPublisher {
	return NewEventPublisherWithOpener(func() (Channel, error) {
		return conn.Channel()
	}, exchange, routingKey)
}

func NewEventPublisherWithOpener(open ChannelOpener, exchange, routingKey string) *EventPublisher {
	return &EventPublisher{
		open:       open,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event model.AnalysisEvent) error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	key := p.routingKey
	if p.exchange == "" {
		if _, err := ch.QueueDeclare(key, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue failed: %w", err)
		}
	} else {
		if err := ch.ExchangeDeclare(p.exchange, ExchangeKind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange failed: %w", err)
		}
		key = p.routingKey + "." + event.RoutingSuffix()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal analysis event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.RequestID,
			Timestamp:    time.Now().UTC(),
			Type:         "image." + event.RoutingSuffix(),
		},
	); err != nil {
		return fmt.Errorf("publish analysis event failed: %w", err)
	}
	return nil
}
