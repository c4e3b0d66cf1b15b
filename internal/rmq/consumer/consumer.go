package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rmq/internal/rmq"
	"rmq/internal/validator"
)

const (
	DefaultReconnectInitial = 100 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

// State is the position of the consume loop in its reconnect cycle.
type State int

const (
	StateConnecting State = iota
	StateSubscribing
	StateConsuming
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateConsuming:
		return "consuming"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recorder receives consume loop events. *metrics.Registry implements it.
type Recorder interface {
	RecordReconnect(queue string)
	RecordStreamError(queue string)
	SetConsumerState(queue, state string)
}

type nopRecorder struct{}

func (nopRecorder) RecordReconnect(string)          {}
func (nopRecorder) RecordStreamError(string)        {}
func (nopRecorder) SetConsumerState(string, string) {}

type Option func(*Consumer)

// WithDispatcher replaces the AckDispatcher, typically with a decorated one.
func WithDispatcher(d rmq.Dispatcher) Option { return func(c *Consumer) { c.dispatcher = d } }

func WithRecorder(r Recorder) Option { return func(c *Consumer) { c.recorder = r } }

// WithConsumerTagPrefix makes each subscription register as <prefix>-<uuid>
// instead of a bare uuid.
func WithConsumerTagPrefix(prefix string) Option {
	return func(c *Consumer) { c.tagPrefix = prefix }
}

// WithReconnectBackoff bounds the exponential delay between reconnects.
func WithReconnectBackoff(initial, maxInterval time.Duration) Option {
	return func(c *Consumer) {
		c.reconnectInitial = initial
		c.reconnectMax = maxInterval
	}
}

// Consumer runs the consume loop for one queue: set up a channel, subscribe,
// hand every delivery to the handler and settle it, and start over whenever
// the subscription stream ends.
type Consumer struct {
	setup      rmq.Setup
	handler    rmq.Handler
	dispatcher rmq.Dispatcher
	recorder   Recorder
	logger     *zap.Logger
	queue      string
	tagPrefix  string

	reconnectInitial time.Duration
	reconnectMax     time.Duration
	jitter           float64
	sleep            func(ctx context.Context, d time.Duration) error
}

func NewConsumer(setup rmq.Setup, handler rmq.Handler, logger *zap.Logger, queue string, opts ...Option) (*Consumer, error) {
	c := Consumer{
		setup:            setup,
		handler:          handler,
		dispatcher:       AckDispatcher{},
		recorder:         nopRecorder{},
		logger:           logger,
		queue:            queue,
		reconnectInitial: DefaultReconnectInitial,
		reconnectMax:     DefaultReconnectMax,
		jitter:           backoff.DefaultRandomizationFactor,
		sleep:            sleepCtx,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if err := validator.Validate("consumer", c.setup, c.handler, c.dispatcher, c.recorder, c.logger, c.queue); err != nil {
		return nil, fmt.Errorf("failed to validate consumer deps: %w", err)
	}

	return &c, nil
}

// Run consumes until ctx is done or an unrecoverable failure occurs. It never
// returns because the broker went away: a terminated stream sends the loop
// back to setup, paced by exponential backoff. The returned error is either
// ctx.Err() or wraps rmq.ErrUnrecoverable.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger.With(zap.String("queue", c.queue))
	bo := c.newBackOff()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			c.recorder.RecordReconnect(c.queue)
			logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("backoff", wait))

			if err := c.sleep(ctx, wait); err != nil {
				logger.Info("consume loop stopped", zap.Error(err))
				return err
			}
		}

		handled, err := c.session(ctx, logger)
		switch {
		case err == nil:
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			logger.Info("consume loop stopped", zap.Error(err))
			return err
		default:
			logger.Error("consume loop aborted", zap.Error(err))
			return err
		}

		// a session that made progress means the broker is healthy again
		if handled > 0 {
			bo.Reset()
		}
	}
}

// session is one pass through Connecting, Subscribing, Consuming and Draining.
// It returns the number of settled deliveries; a nil error means the stream
// ended and the caller should reconnect.
func (c *Consumer) session(ctx context.Context, logger *zap.Logger) (int, error) {
	c.setState(StateConnecting)

	ch, err := c.setup.Setup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: setup channel for queue %s: %w", rmq.ErrUnrecoverable, c.queue, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Debug("failed to close channel", zap.Error(err))
		}
	}()

	c.setState(StateSubscribing)
	logger.Info("channel ready", zap.String("status", rmq.ChannelStatus(ch)))

	sub, err := Subscribe(ch, c.queue, c.consumerTag())
	if err != nil {
		return 0, err
	}

	logger = logger.With(zap.String("consumerTag", sub.Tag()))
	logger.Info("subscribed")
	c.setState(StateConsuming)

	var handled int
	for {
		d, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, rmq.ErrSubscriptionClosed):
			c.setState(StateDraining)
			logger.Warn("subscription stream ended",
				zap.Int("handled", handled),
				zap.String("status", rmq.ChannelStatus(ch)),
			)
			return handled, nil
		case ctx.Err() != nil:
			return handled, ctx.Err()
		default:
			c.recorder.RecordStreamError(c.queue)
			logger.Warn("subscription stream error", zap.Error(err))
			continue
		}

		v := c.handler.Handle(ctx, &d)
		if err := c.dispatcher.Dispatch(ctx, v, ch, d.DeliveryTag); err != nil {
			return handled, err
		}
		handled++
	}
}

func (c *Consumer) setState(s State) {
	c.recorder.SetConsumerState(c.queue, s.String())
}

// consumerTag is never empty: the logged tag must be the registered one.
func (c *Consumer) consumerTag() string {
	if c.tagPrefix == "" {
		return uuid.NewString()
	}
	return c.tagPrefix + "-" + uuid.NewString()
}

func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectInitial
	bo.MaxInterval = c.reconnectMax
	bo.RandomizationFactor = c.jitter
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
