package consumer

import (
	"context"
	"fmt"

	"rmq/internal/rmq"
)

// AckDispatcher settles deliveries on the broker. Every call is non-multiple,
// so only the delivery identified by tag is affected.
type AckDispatcher struct{}

// Dispatch issues exactly one ack or nack for tag. A failed call is not
// retried: it wraps rmq.ErrUnrecoverable, and the broker redelivers the message
// once the dying channel is gone.
func (AckDispatcher) Dispatch(_ context.Context, v rmq.Verdict, ack rmq.Acknowledger, tag uint64) error {
	if !v.Valid() {
		return fmt.Errorf("%w: unknown %s for delivery %d", rmq.ErrUnrecoverable, v, tag)
	}

	var err error
	switch v {
	case rmq.Accept:
		err = ack.Ack(tag, false)
	case rmq.RejectDiscard:
		err = ack.Nack(tag, false, false)
	case rmq.RejectRequeue:
		err = ack.Nack(tag, false, true)
	}

	if err != nil {
		return fmt.Errorf("%w: %s delivery %d: %w", rmq.ErrUnrecoverable, v, tag, err)
	}

	return nil
}
