// Package receipt is a parameterized handler that records every processed
// message in a document store and recognises redeliveries.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"

	"rmq/internal/rmq"
)

// Store persists receipts. Insert must fail with an error wrapping
// gocb.ErrDocumentExists when key is already recorded.
type Store interface {
	Insert(ctx context.Context, key string, r rmq.Receipt) error
}

// Args is the argument the handler is bound to with rmq.Bind.
type Args struct {
	Queue  string
	Store  Store
	Logger *zap.Logger
	Now    func() time.Time
}

// NewHandler binds Decide to args.
func NewHandler(args Args) rmq.Handler {
	return rmq.Bind(Decide, args)
}

func (a Args) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a Args) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Decide maps a delivery to a verdict:
//   - empty or undecodable bodies and messages without an id are discarded
//   - a message id that already has a receipt is accepted again
//   - a store failure requeues the message
//   - otherwise the receipt is written and the message accepted
//
// Without a store every well formed message is accepted.
func Decide(ctx context.Context, d *rmq.Delivery, args Args) rmq.Verdict {
	logger := args.logger().With(
		zap.Uint64("deliveryTag", d.DeliveryTag),
		zap.String("messageId", d.MessageId),
	)

	if len(d.Body) == 0 {
		logger.Warn("discarding empty message")
		return rmq.RejectDiscard
	}

	var e rmq.Event
	if err := json.Unmarshal(d.Body, &e); err != nil || e.Type == "" {
		logger.Warn("discarding undecodable message", zap.Error(err))
		return rmq.RejectDiscard
	}

	if d.MessageId == "" {
		logger.Warn("discarding message without id", zap.String("eventType", e.Type))
		return rmq.RejectDiscard
	}

	if args.Store == nil {
		return rmq.Accept
	}

	key := rmq.ReceiptKey(args.Queue, d.MessageId)
	r := rmq.Receipt{
		ID:          key,
		Queue:       args.Queue,
		MessageID:   d.MessageId,
		EventType:   e.Type,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		ReceivedAt:  args.now().UTC(),
	}

	err := args.Store.Insert(ctx, key, r)
	switch {
	case err == nil:
		logger.Debug("receipt recorded", zap.String("eventType", e.Type))
		return rmq.Accept
	case errors.Is(err, gocb.ErrDocumentExists):
		logger.Info("duplicate message", zap.Bool("redelivered", d.Redelivered))
		return rmq.Accept
	default:
		logger.Error("failed to record receipt, requeueing", zap.Error(err))
		return rmq.RejectRequeue
	}
}
