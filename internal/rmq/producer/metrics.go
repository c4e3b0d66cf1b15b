package producer

import (
	"context"
	"time"

	"rmq/internal/rmq"
	"rmq/internal/rmq/metrics"
)

// MetricsProducer wraps a rmq.Producer with metrics collection
type MetricsProducer struct {
	producer rmq.Producer
	registry *metrics.Registry
}

// NewMetricsProducer creates a new instrumented producer
func NewMetricsProducer(producer rmq.Producer, registry *metrics.Registry) rmq.Producer {
	return &MetricsProducer{
		producer: producer,
		registry: registry,
	}
}

// PublishBatch implements rmq.Producer.PublishBatch with metrics collection
func (p *MetricsProducer) PublishBatch(ctx context.Context, routingKey string, events ...rmq.Event) error {
	start := time.Now()

	err := p.producer.PublishBatch(ctx, routingKey, events...)

	p.registry.RecordProducerPublish(routingKey, len(events), time.Since(start), err)

	return err
}
