package rmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is a message handed to the consumer by the broker.
type Delivery = amqp.Delivery

// Acknowledger settles a single delivery on the channel it arrived on.
type Acknowledger interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
}

// Channel is one live AMQP channel bound to one connection. A Channel is
// owned by exactly one consume loop iteration and is closed when that
// iteration ends. *amqp.Channel satisfies everything except the ownership of
// the connection, see topology.Handle.
type Channel interface {
	Acknowledger

	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Setup produces a fresh, open Channel with the topology for a queue already
// declared. Implementations block and retry until a healthy channel is
// available or ctx is done.
type Setup interface {
	Setup(ctx context.Context) (Channel, error)
}

// SetupFunc adapts a function to Setup.
type SetupFunc func(ctx context.Context) (Channel, error)

func (f SetupFunc) Setup(ctx context.Context) (Channel, error) { return f(ctx) }

// ChannelStatus renders the state of ch for logs.
func ChannelStatus(ch Channel) string {
	if ch == nil || ch.IsClosed() {
		return "closed"
	}
	return "open"
}
