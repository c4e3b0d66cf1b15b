package topology

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type declaration struct {
	Op   string
	Name string
	Key  string
	Args amqp.Table
}

type fakeDeclarer struct {
	calls  []declaration
	failOn string
}

func (f *fakeDeclarer) fail(op string) error {
	if f.failOn == op {
		return amqp.ErrClosed
	}
	return nil
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, args amqp.Table) error {
	f.calls = append(f.calls, declaration{Op: "exchange", Name: name, Key: kind, Args: args})
	return f.fail("exchange")
}

func (f *fakeDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, declaration{Op: "queue", Name: name, Args: args})
	return amqp.Queue{Name: name}, f.fail("queue")
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, declaration{Op: "bind", Name: name + "@" + exchange, Key: key})
	return f.fail("bind")
}

func (f *fakeDeclarer) Qos(prefetchCount, _ int, _ bool) error {
	f.calls = append(f.calls, declaration{Op: "qos", Name: strconv.Itoa(prefetchCount)})
	return f.fail("qos")
}

func TestDeclare(t *testing.T) {
	cfg := validConfig()
	cfg.Binding.RoutingKeys = []string{"orders.created", "orders.paid"}
	cfg.Binding.Prefetch = 4
	cfg.Declare.DeadLetterExchange = "rmq.dlx"
	cfg.Declare.DeadLetterRoutingKey = "orders.dead"

	f := &fakeDeclarer{}
	require.NoError(t, declare(f, cfg))

	require.Equal(t, []declaration{
		{Op: "exchange", Name: "rmq.events", Key: "topic"},
		{Op: "queue", Name: "orders", Args: amqp.Table{
			"x-dead-letter-exchange":    "rmq.dlx",
			"x-dead-letter-routing-key": "orders.dead",
		}},
		{Op: "bind", Name: "orders@rmq.events", Key: "orders.created"},
		{Op: "bind", Name: "orders@rmq.events", Key: "orders.paid"},
		{Op: "qos", Name: "4"},
	}, f.calls)
}

func TestDeclare_DefaultExchange(t *testing.T) {
	cfg := validConfig()
	cfg.Declare = DeclareConfig{Durable: true}
	cfg.Binding.Prefetch = 0

	f := &fakeDeclarer{}
	require.NoError(t, declare(f, cfg))
	require.Equal(t, []declaration{{Op: "queue", Name: "orders"}}, f.calls)
}

func TestDeclare_StopsAtFirstFailure(t *testing.T) {
	f := &fakeDeclarer{failOn: "queue"}

	err := declare(f, validConfig())
	require.ErrorIs(t, err, amqp.ErrClosed)
	require.ErrorContains(t, err, "declare queue orders")
	require.Len(t, f.calls, 2)
}

func TestQueueArgs(t *testing.T) {
	require.Nil(t, queueArgs(DeclareConfig{}))
	require.Equal(t, amqp.Table{"x-queue-type": "quorum"}, queueArgs(DeclareConfig{QueueType: "quorum"}))
}

func newTestDialer(t *testing.T, logger *zap.Logger) *Dialer {
	t.Helper()

	cfg := validConfig()
	cfg.Connection.RetryInitial = time.Millisecond
	cfg.Connection.RetryMax = 2 * time.Millisecond

	d, err := NewDialer(cfg, logger)
	require.NoError(t, err)
	return d
}

func TestNewDialer_Invalid(t *testing.T) {
	_, err := NewDialer(Config{}, zap.NewNop())
	require.ErrorContains(t, err, "invalid topology config")

	_, err = NewDialer(validConfig(), nil)
	require.Error(t, err)
}

func TestDialer_RetriesUntilOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := newTestDialer(t, zap.New(core))

	want := &Handle{}
	attempts := 0
	d.open = func() (*Handle, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return want, nil
	}

	ch, err := d.Setup(context.Background())
	require.NoError(t, err)
	require.Same(t, want, ch)
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, logs.FilterMessage("channel setup failed, retrying").Len())
}

func TestDialer_StopsOnCancel(t *testing.T) {
	d := newTestDialer(t, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	d.open = func() (*Handle, error) {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return nil, errors.New("connection refused")
	}

	_, err := d.Setup(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, attempts)
}

func TestHandle_CloseWithoutConnection(t *testing.T) {
	require.NoError(t, (&Handle{}).Close())
}
