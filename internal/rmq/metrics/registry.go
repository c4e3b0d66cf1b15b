package metrics

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Producer metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishBatchSize *prometheus.HistogramVec

	// Consumer metrics
	deliveriesTotal *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	ackTotal        *prometheus.CounterVec
	ackDuration     *prometheus.HistogramVec

	// Consume loop metrics
	reconnectsTotal   *prometheus.CounterVec
	streamErrorsTotal *prometheus.CounterVec
	consumerState     *prometheus.GaugeVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge

	// last reported state per queue, for readiness
	mu     sync.RWMutex
	states map[string]string
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,
		states:   make(map[string]string),

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmq_producer_publish_total",
				Help: "Total number of publish operations",
			},
			[]string{"routing_key", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rmq_producer_publish_duration_seconds",
				Help:    "Time spent publishing batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"routing_key"},
		),

		publishBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rmq_producer_batch_size",
				Help:    "Number of events in published batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"routing_key"},
		),

		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmq_consumer_deliveries_total",
				Help: "Total number of deliveries handled, by verdict",
			},
			[]string{"queue", "verdict"},
		),

		handleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rmq_consumer_handle_duration_seconds",
				Help:    "Time spent in the business handler per delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmq_consumer_ack_total",
				Help: "Total number of acknowledgment calls issued to the broker",
			},
			[]string{"queue", "verdict", "status"}, // status: success, error
		),

		ackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rmq_consumer_ack_duration_seconds",
				Help:    "Time spent on acknowledgment calls",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"queue"},
		),

		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmq_consumer_reconnects_total",
				Help: "Total number of times the consume loop rebuilt its channel",
			},
			[]string{"queue"},
		),

		streamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rmq_consumer_stream_errors_total",
				Help: "Total number of error items observed on subscription streams",
			},
			[]string{"queue"},
		),

		consumerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rmq_consumer_state",
				Help: "Current consume loop state (value is always 1, state label holds the state)",
			},
			[]string{"queue", "state"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rmq_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rmq_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishBatchSize,
		r.deliveriesTotal,
		r.handleDuration,
		r.ackTotal,
		r.ackDuration,
		r.reconnectsTotal,
		r.streamErrorsTotal,
		r.consumerState,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordProducerPublish records a producer publish operation
func (r *Registry) RecordProducerPublish(routingKey string, batchSize int, duration time.Duration, err error) {
	r.publishTotal.WithLabelValues(routingKey, status(err)).Inc()
	r.publishDuration.WithLabelValues(routingKey).Observe(duration.Seconds())
	if err == nil {
		r.publishBatchSize.WithLabelValues(routingKey).Observe(float64(batchSize))
	}
}

// RecordDelivery records one handler invocation and the verdict it produced
func (r *Registry) RecordDelivery(queue, verdict string, duration time.Duration) {
	r.deliveriesTotal.WithLabelValues(queue, verdict).Inc()
	r.handleDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordAck records one acknowledgment call
func (r *Registry) RecordAck(queue, verdict string, duration time.Duration, err error) {
	r.ackTotal.WithLabelValues(queue, verdict, status(err)).Inc()
	r.ackDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordReconnect records the consume loop going back to setup
func (r *Registry) RecordReconnect(queue string) {
	r.reconnectsTotal.WithLabelValues(queue).Inc()
}

// RecordStreamError records an error item pulled from a subscription
func (r *Registry) RecordStreamError(queue string) {
	r.streamErrorsTotal.WithLabelValues(queue).Inc()
}

// SetConsumerState replaces the state series for queue with state
func (r *Registry) SetConsumerState(queue, state string) {
	r.consumerState.DeletePartialMatch(prometheus.Labels{"queue": queue})
	r.consumerState.WithLabelValues(queue, state).Set(1)

	r.mu.Lock()
	r.states[queue] = state
	r.mu.Unlock()
}

// ConsumerStates returns the last state reported for every queue
func (r *Registry) ConsumerStates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.states)
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Gatherer exposes the underlying registry for scraping and tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
