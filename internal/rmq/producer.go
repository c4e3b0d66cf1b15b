package rmq

import "context"

// Producer defines the interface for publishing events to an exchange.
type Producer interface {
	// PublishBatch publishes events one by one with the given routing key.
	PublishBatch(ctx context.Context, routingKey string, events ...Event) error
}
