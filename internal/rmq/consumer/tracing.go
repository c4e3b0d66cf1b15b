package consumer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rmq/internal/rmq"
	"rmq/internal/rmq/tracing"
)

// TracedHandler wraps a rmq.Handler with distributed tracing. The span
// continues the trace the producer injected into the message headers.
// Layer order: TracedHandler -> MetricsHandler -> Handler (real thing)
type TracedHandler struct {
	handler rmq.Handler
	tracer  *tracing.Tracer
	queue   string
}

func NewTracedHandler(handler rmq.Handler, tracer *tracing.Tracer, queue string) rmq.Handler {
	return &TracedHandler{
		handler: handler,
		tracer:  tracer,
		queue:   queue,
	}
}

// Handle implements rmq.Handler.Handle with distributed tracing
func (h *TracedHandler) Handle(ctx context.Context, d *rmq.Delivery) rmq.Verdict {
	ctx = h.tracer.Extract(ctx, d.Headers)
	ctx, span := h.tracer.StartSpan(ctx, "consumer.handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(h.tracer.DeliveryAttributes(h.queue, d)...)

	v := h.handler.Handle(ctx, d)

	span.SetAttributes(attribute.String("rmq.verdict", v.String()))
	if v == rmq.Accept {
		span.SetStatus(codes.Ok, "")
	}

	return v
}

// TracedDispatcher wraps a rmq.Dispatcher with distributed tracing
// Layer order: TracedDispatcher -> MetricsDispatcher -> AckDispatcher
type TracedDispatcher struct {
	dispatcher rmq.Dispatcher
	tracer     *tracing.Tracer
	queue      string
}

func NewTracedDispatcher(dispatcher rmq.Dispatcher, tracer *tracing.Tracer, queue string) rmq.Dispatcher {
	return &TracedDispatcher{
		dispatcher: dispatcher,
		tracer:     tracer,
		queue:      queue,
	}
}

// Dispatch implements rmq.Dispatcher.Dispatch with distributed tracing
func (d *TracedDispatcher) Dispatch(ctx context.Context, v rmq.Verdict, ack rmq.Acknowledger, tag uint64) error {
	ctx, span := d.tracer.StartSpan(ctx, "consumer.ack")
	defer span.End()

	span.SetAttributes(d.tracer.MessagingAttributes(d.queue)...)
	span.SetAttributes(
		attribute.Int64("messaging.rabbitmq.delivery_tag", int64(tag)),
		attribute.String("rmq.verdict", v.String()),
	)

	err := d.dispatcher.Dispatch(ctx, v, ack, tag)

	if err != nil {
		d.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(d.tracer.ErrorAttributes(err)...)

	return err
}
