package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"rmq/internal/couchbase"
	"rmq/internal/rmq"
	"rmq/internal/rmq/consumer"
	"rmq/internal/rmq/metrics"
	"rmq/internal/rmq/producer"
	"rmq/internal/rmq/receipt"
	"rmq/internal/rmq/topology"
	"rmq/internal/rmq/tracing"
)

var version = "dev"

type Config struct {
	Queues            []string      `env:"QUEUES" envSeparator:"," envDefault:"orders,payments"`
	ConsumerTagPrefix string        `env:"CONSUMER_TAG_PREFIX" envDefault:"rmq-consumer"`
	ReconnectInitial  time.Duration `env:"RECONNECT_INITIAL" envDefault:"100ms"`
	ReconnectMax      time.Duration `env:"RECONNECT_MAX" envDefault:"30s"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`

	// PublishRounds > 0 turns on the demo publisher: every PublishInterval it
	// sends EventCount events to each queue.
	PublishRounds   int           `env:"PUBLISH_ROUNDS" envDefault:"0"`
	PublishInterval time.Duration `env:"PUBLISH_INTERVAL" envDefault:"1s"`
	EventCount      int           `env:"EVENT_COUNT" envDefault:"100"`

	ReceiptsEnabled bool          `env:"RECEIPTS_ENABLED" envDefault:"true"`
	ReceiptTTL      time.Duration `env:"RECEIPT_TTL" envDefault:"24h"`

	Couchbase couchbase.Config `envPrefix:"COUCHBASE_"`
	Topology  topology.Config  `envPrefix:"AMQP_"`
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}
	if len(cfg.Queues) == 0 {
		log.Fatal("no queues configured")
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo(version, time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)
	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	var receipts receipt.Store
	if cfg.ReceiptsEnabled {
		cluster, bucket, err := couchbase.Connect(cfg.Couchbase)
		if err != nil {
			log.Fatalf("failed to connect to Couchbase: %v", err)
		}
		store, err := rmq.NewReceiptsStore(cluster, bucket, cfg.Couchbase.ScopeName, cfg.ReceiptTTL)
		if err != nil {
			log.Fatalf("failed to create receipts store: %v", err)
		}
		defer store.Close()
		receipts = store
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.Info("shutting down", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range cfg.Queues {
		dialer, err := topology.NewDialer(cfg.Topology.ForQueue(queue), logger)
		if err != nil {
			log.Fatalf("failed to create dialer for queue %s: %v", queue, err)
		}

		c, err := newConsumer(cfg, dialer, queue, receipts, metricsRegistry, tracer, logger)
		if err != nil {
			log.Fatalf("failed to create consumer for queue %s: %v", queue, err)
		}
		g.Go(func() error {
			return c.Run(gctx)
		})

		if cfg.PublishRounds > 0 {
			g.Go(func() error {
				return publish(gctx, cfg, dialer, queue, metricsRegistry, tracer, logger)
			})
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}
}

// newConsumer layers the handler and dispatcher: Traced -> Metrics -> real.
func newConsumer(
	cfg Config,
	setup rmq.Setup,
	queue string,
	receipts receipt.Store,
	registry *metrics.Registry,
	tracer *tracing.Tracer,
	logger *zap.Logger,
) (*consumer.Consumer, error) {
	handler := receipt.NewHandler(receipt.Args{
		Queue:  queue,
		Store:  receipts,
		Logger: logger.Named("receipt").With(zap.String("queue", queue)),
	})
	handler = consumer.NewMetricsHandler(handler, registry, queue)
	handler = consumer.NewTracedHandler(handler, tracer, queue)

	dispatcher := consumer.NewMetricsDispatcher(consumer.AckDispatcher{}, registry, queue)
	dispatcher = consumer.NewTracedDispatcher(dispatcher, tracer, queue)

	return consumer.NewConsumer(setup, handler, logger, queue,
		consumer.WithDispatcher(dispatcher),
		consumer.WithRecorder(registry),
		consumer.WithConsumerTagPrefix(cfg.ConsumerTagPrefix),
		consumer.WithReconnectBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
	)
}

func publish(
	ctx context.Context,
	cfg Config,
	dialer *topology.Dialer,
	queue string,
	registry *metrics.Registry,
	tracer *tracing.Tracer,
	logger *zap.Logger,
) error {
	h, err := dialer.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open publish channel for %s: %w", queue, err)
	}
	defer h.Close()

	baseProducer, err := producer.NewProducer(h, cfg.Topology.Declare.Exchange, producer.WithInjector(tracer))
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	metricsProducer := producer.NewMetricsProducer(baseProducer, registry)
	p := producer.NewTracedProducer(metricsProducer, tracer)

	ticker := time.NewTicker(cfg.PublishInterval)
	defer ticker.Stop()

	for rounds := 0; rounds < cfg.PublishRounds; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e := events(cfg.EventCount)
			if err := p.PublishBatch(ctx, queue, e...); err != nil {
				return fmt.Errorf("failed to publish events to %s: %w", queue, err)
			}
			rounds++
			logger.Info("published events",
				zap.String("queue", queue),
				zap.Int("count", len(e)),
				zap.Int("round", rounds),
			)
		}
	}

	logger.Info("publish rounds complete, stopping producer", zap.String("queue", queue))
	return nil
}

func events(count int) []rmq.Event {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	events := make([]rmq.Event, 0, count)

	for i := 0; i < count; i++ {
		pl := map[string]any{
			"order_id":    fmt.Sprintf("ORD-%04d", i+1),
			"customer_id": customers[rand.Intn(len(customers))],
			"product_id":  products[rand.Intn(len(products))],
			"amount":      10.0 + rand.Float64()*990.0,
			"timestamp":   time.Now().Format(time.RFC3339),
		}
		events = append(events, rmq.Event{Type: "order", Payload: pl})
	}

	return events
}
