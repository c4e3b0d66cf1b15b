package producer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rmq/internal/rmq"
	"rmq/internal/rmq/tracing"
)

// TracedProducer wraps a rmq.Producer with distributed tracing
// Layer order: TracedProducer -> MetricsProducer -> Producer (real thing)
type TracedProducer struct {
	producer rmq.Producer
	tracer   *tracing.Tracer
}

// NewTracedProducer creates a new traced producer that wraps a metrics producer
func NewTracedProducer(producer rmq.Producer, tracer *tracing.Tracer) rmq.Producer {
	return &TracedProducer{
		producer: producer,
		tracer:   tracer,
	}
}

// PublishBatch implements rmq.Producer.PublishBatch with distributed tracing.
// The real producer injects this span into the message headers, so consumer
// spans become its children.
func (p *TracedProducer) PublishBatch(ctx context.Context, routingKey string, events ...rmq.Event) error {
	ctx, span := p.tracer.StartSpan(ctx, "producer.publish_batch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	span.SetAttributes(p.tracer.MessagingAttributes(routingKey)...)
	span.SetAttributes(attribute.Int("messaging.batch.message_count", len(events)))

	err := p.producer.PublishBatch(ctx, routingKey, events...)
	if err != nil {
		p.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(p.tracer.ErrorAttributes(err)...)

	return err
}
