package consumer

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"rmq/internal/rmq"
)

// Subscription is the delivery stream of one basic.consume on one channel.
// It cannot be restarted; after rmq.ErrSubscriptionClosed a new channel and
// subscription are required.
type Subscription struct {
	tag        string
	deliveries <-chan amqp.Delivery
	closed     chan *amqp.Error
}

// Subscribe registers a consumer on queue with manual acknowledgments and no
// exclusivity. An empty consumerTag lets the client library generate one.
// Registration failures wrap rmq.ErrUnrecoverable.
func Subscribe(ch rmq.Channel, queue, consumerTag string) (*Subscription, error) {
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	deliveries, err := ch.Consume(
		queue,
		consumerTag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: consume queue %s: %w", rmq.ErrUnrecoverable, queue, err)
	}

	return &Subscription{
		tag:        consumerTag,
		deliveries: deliveries,
		closed:     closed,
	}, nil
}

// Tag returns the consumer tag the subscription was registered with.
func (s *Subscription) Tag() string {
	return s.tag
}

// Next blocks for the next item of the stream. A channel close notification is
// returned as an item error; the stream itself ends with
// rmq.ErrSubscriptionClosed once the broker stops delivering.
func (s *Subscription) Next(ctx context.Context) (rmq.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return rmq.Delivery{}, ctx.Err()

		case err, ok := <-s.closed:
			if !ok {
				// graceful close, the delivery channel follows
				s.closed = nil
				continue
			}
			if err == nil {
				continue
			}
			return rmq.Delivery{}, fmt.Errorf("channel closed: %w", err)

		case d, ok := <-s.deliveries:
			if !ok {
				return rmq.Delivery{}, rmq.ErrSubscriptionClosed
			}
			return d, nil
		}
	}
}
