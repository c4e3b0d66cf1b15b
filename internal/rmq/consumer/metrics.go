package consumer

import (
	"context"
	"time"

	"rmq/internal/rmq"
	"rmq/internal/rmq/metrics"
)

// MetricsHandler wraps a rmq.Handler with metrics collection
type MetricsHandler struct {
	handler  rmq.Handler
	registry *metrics.Registry
	queue    string
}

// NewMetricsHandler creates a new instrumented handler for queue
func NewMetricsHandler(handler rmq.Handler, registry *metrics.Registry, queue string) rmq.Handler {
	return &MetricsHandler{
		handler:  handler,
		registry: registry,
		queue:    queue,
	}
}

// Handle implements rmq.Handler.Handle with metrics collection
func (h *MetricsHandler) Handle(ctx context.Context, d *rmq.Delivery) rmq.Verdict {
	start := time.Now()

	v := h.handler.Handle(ctx, d)

	h.registry.RecordDelivery(h.queue, v.String(), time.Since(start))

	return v
}

// MetricsDispatcher wraps a rmq.Dispatcher with metrics collection
type MetricsDispatcher struct {
	dispatcher rmq.Dispatcher
	registry   *metrics.Registry
	queue      string
}

// NewMetricsDispatcher creates a new instrumented dispatcher for queue
func NewMetricsDispatcher(dispatcher rmq.Dispatcher, registry *metrics.Registry, queue string) rmq.Dispatcher {
	return &MetricsDispatcher{
		dispatcher: dispatcher,
		registry:   registry,
		queue:      queue,
	}
}

// Dispatch implements rmq.Dispatcher.Dispatch with metrics collection
func (d *MetricsDispatcher) Dispatch(ctx context.Context, v rmq.Verdict, ack rmq.Acknowledger, tag uint64) error {
	start := time.Now()

	err := d.dispatcher.Dispatch(ctx, v, ack, tag)

	d.registry.RecordAck(d.queue, v.String(), time.Since(start), err)

	return err
}
