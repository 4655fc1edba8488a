package messaging

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/rl1809/library-lending/internal/core/domain"
)

const DefaultExchange = "lending.events"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher sends lending events to a topic exchange; the routing key is the event type.
type RabbitPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger

	mu sync.Mutex // amqp channels must not be shared across concurrent publishers
	ch amqpChannel
}

func DialRabbit(url, exchange string, log zerolog.Logger) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := newRabbitPublisher(ch, exchange, log)
	p.conn = conn
	log.Info().Str("exchange", exchange).Msg("connected to rabbitmq")
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string, log zerolog.Logger) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange, log: log}
}

func (p *RabbitPublisher) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := toPublishing(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Publish(p.exchange, string(event.Type), false, false, msg); err != nil {
		return fmt.Errorf("event publish error: %w", err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		p.log.Warn().Err(err).Msg("closing rabbitmq channel")
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func toPublishing(event domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("event serialization error: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Headers: amqp.Table{
			"aggregate_id": event.AggregateID,
			"user_id":      event.UserID,
			"book_id":      event.BookID,
		},
	}, nil
}

// LogPublisher is the sink used when no broker is configured.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.log.Info().
		Str("event", string(event.Type)).
		Str("aggregate", event.AggregateID).
		Str("user", event.UserID).
		Str("book", event.BookID).
		Msg("lending event")
	return nil
}
