package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"rmq/internal/rmq"
	"rmq/internal/validator"
)

// Publisher is the part of *amqp.Channel the producer needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Injector writes the trace context of ctx into message headers.
type Injector interface {
	Inject(ctx context.Context, headers amqp.Table)
}

type Producer struct {
	publisher Publisher
	exchange  string
	injector  Injector
	now       func() time.Time
}

type Option func(*Producer)

// WithInjector propagates the caller's trace context in every published message.
func WithInjector(i Injector) Option {
	return func(p *Producer) {
		p.injector = i
	}
}

// NewProducer publishes to exchange; an empty exchange is the broker's
// default exchange, which routes by queue name.
func NewProducer(publisher Publisher, exchange string, opts ...Option) (*Producer, error) {
	p := Producer{
		publisher: publisher,
		exchange:  exchange,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(&p)
	}

	if err := validator.Validate("producer", p.publisher); err != nil {
		return nil, fmt.Errorf("failed to validate producer publisher: %w", err)
	}

	return &p, nil
}

// PublishBatch publishes events in order as persistent JSON messages, each
// with a fresh message id. It stops at the first failure.
func (p *Producer) PublishBatch(ctx context.Context, routingKey string, events ...rmq.Event) error {
	for i, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d of type %s: %w", i, e.Type, err)
		}

		msg := amqp.Publishing{
			Headers:      amqp.Table{},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    p.now().UTC(),
			Type:         e.Type,
			Body:         body,
		}
		if p.injector != nil {
			p.injector.Inject(ctx, msg.Headers)
		}

		if err := p.publisher.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
			return fmt.Errorf("failed to publish message %s to %s: %w", msg.MessageId, routingKey, err)
		}
	}

	return nil
}
