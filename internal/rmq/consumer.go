package rmq

import "context"

// Handler decides the verdict for one delivery. Handle runs synchronously on
// the consume loop and must not panic; failures are expressed as
// RejectDiscard or RejectRequeue.
type Handler interface {
	Handle(ctx context.Context, d *Delivery) Verdict
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, d *Delivery) Verdict

func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) Verdict { return f(ctx, d) }

// Bind adapts a handler that needs a caller-owned argument, for example a
// shared client or configuration. The same arg is passed to every call for
// the lifetime of the returned Handler and must be safe for concurrent reads
// when shared across consume loops. The zero value of T is a valid, empty arg.
func Bind[T any](fn func(ctx context.Context, d *Delivery, arg T) Verdict, arg T) Handler {
	return HandlerFunc(func(ctx context.Context, d *Delivery) Verdict {
		return fn(ctx, d, arg)
	})
}

// Dispatcher translates a verdict into exactly one acknowledgment call for the
// delivery identified by tag.
type Dispatcher interface {
	Dispatch(ctx context.Context, v Verdict, ack Acknowledger, tag uint64) error
}
