package topology

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"rmq/internal/rmq"
	"rmq/internal/validator"
)

// Handle is a channel that owns its connection: closing the handle closes
// both, so nothing of a dead session outlives one consume loop iteration.
type Handle struct {
	*amqp.Channel
	conn *amqp.Connection
}

var _ rmq.Channel = (*Handle)(nil)

// Close closes the connection, which closes the channel with it.
func (h *Handle) Close() error {
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// Dialer implements rmq.Setup: it connects, opens a channel and declares the
// queue topology, retrying until it succeeds or ctx is done.
type Dialer struct {
	config Config
	logger *zap.Logger

	open func() (*Handle, error)
}

func NewDialer(config Config, logger *zap.Logger) (*Dialer, error) {
	if err := validator.Validate("dialer", logger); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology config: %w", err)
	}

	d := &Dialer{
		config: config,
		logger: logger.Named("topology").With(zap.String("queue", config.Binding.Queue)),
	}
	d.open = d.openAMQP

	return d, nil
}

// Setup implements rmq.Setup.
func (d *Dialer) Setup(ctx context.Context) (rmq.Channel, error) {
	h, err := d.Open(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Open is Setup with the concrete handle, for callers that also publish.
func (d *Dialer) Open(ctx context.Context) (*Handle, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.config.Connection.RetryInitial
	bo.MaxInterval = d.config.Connection.RetryMax

	h, err := backoff.Retry(ctx, d.open,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("channel setup failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up channel: %w", err)
	}

	d.logger.Debug("channel set up")
	return h, nil
}

func (d *Dialer) openAMQP() (*Handle, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(d.config.Connection.Name)

	conn, err := amqp.DialConfig(d.config.Connection.URL, amqp.Config{
		Heartbeat:  d.config.Connection.Heartbeat,
		Dial:       amqp.DefaultDial(d.config.Connection.DialTimeout),
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch, d.config); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Handle{Channel: ch, conn: conn}, nil
}

// declarer is the part of *amqp.Channel used to declare topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// declare makes the exchange, the queue and its bindings exist and applies
// the prefetch limit. Every declaration is idempotent on the broker.
func declare(ch declarer, cfg Config) error {
	if cfg.Declare.Exchange != "" {
		if err := ch.ExchangeDeclare(
			cfg.Declare.Exchange,
			cfg.Declare.ExchangeKind,
			cfg.Declare.Durable,
			cfg.Declare.AutoDelete,
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", cfg.Declare.Exchange, err)
		}
	}

	q, err := ch.QueueDeclare(
		cfg.Binding.Queue,
		cfg.Declare.Durable,
		cfg.Declare.AutoDelete,
		false, // exclusive
		false, // no-wait
		queueArgs(cfg.Declare),
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Binding.Queue, err)
	}

	if cfg.Declare.Exchange != "" {
		for _, key := range cfg.Binding.RoutingKeys {
			if err := ch.QueueBind(q.Name, key, cfg.Declare.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s with key %s: %w", q.Name, cfg.Declare.Exchange, key, err)
			}
		}
	}

	if cfg.Binding.Prefetch > 0 {
		if err := ch.Qos(cfg.Binding.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch %d: %w", cfg.Binding.Prefetch, err)
		}
	}

	return nil
}

func queueArgs(cfg DeclareConfig) amqp.Table {
	args := amqp.Table{}
	if cfg.QueueType != "" {
		args["x-queue-type"] = cfg.QueueType
	}
	if cfg.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = cfg.DeadLetterExchange
	}
	if cfg.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = cfg.DeadLetterRoutingKey
	}
	if len(args) == 0 {
		return nil
	}
	return args
}
