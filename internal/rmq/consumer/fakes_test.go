package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rmq/internal/rmq"
)

// ackCall is one Ack or Nack observed by a fake acknowledger.
type ackCall struct {
	Tag      uint64
	Nack     bool
	Multiple bool
	Requeue  bool
}

func ack(tag uint64) ackCall { return ackCall{Tag: tag} }

func nack(tag uint64, requeue bool) ackCall { return ackCall{Tag: tag, Nack: true, Requeue: requeue} }

type fakeAcker struct {
	mu    sync.Mutex
	calls []ackCall
	err   error

	// delay and inflight let tests observe overlapping calls
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	return f.record(ackCall{Tag: tag, Multiple: multiple})
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	return f.record(ackCall{Tag: tag, Nack: true, Multiple: multiple, Requeue: requeue})
}

func (f *fakeAcker) record(c ackCall) error {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeAcker) Calls() []ackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackCall(nil), f.calls...)
}

// item is one element of a fake subscription stream: a delivery or an error.
type item struct {
	tag uint64
	err *amqp.Error
}

func msg(tag uint64) item { return item{tag: tag} }

func streamErr(reason string) item {
	return item{err: &amqp.Error{Code: amqp.ChannelError, Reason: reason}}
}

// fakeChannel feeds its items over unbuffered channels so the consumer sees
// them in exactly the given order, then ends the stream.
type fakeChannel struct {
	fakeAcker

	items      []item
	consumeErr error

	deliveries chan amqp.Delivery
	notify     chan *amqp.Error
	stop       chan struct{}
	stopOnce   sync.Once
	closed     atomic.Bool

	mu          sync.Mutex
	queue       string
	consumerTag string
	autoAck     bool
	exclusive   bool
}

func newFakeChannel(items ...item) *fakeChannel {
	return &fakeChannel{
		items:      items,
		deliveries: make(chan amqp.Delivery),
		notify:     make(chan *amqp.Error),
		stop:       make(chan struct{}),
	}
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	f.queue, f.consumerTag, f.autoAck, f.exclusive = queue, consumer, autoAck, exclusive
	f.mu.Unlock()

	if f.consumeErr != nil {
		return nil, f.consumeErr
	}

	go f.feed()
	return f.deliveries, nil
}

func (f *fakeChannel) feed() {
	defer close(f.notify)
	defer close(f.deliveries)

	for _, it := range f.items {
		if it.err != nil {
			select {
			case f.notify <- it.err:
			case <-f.stop:
				return
			}
			continue
		}

		d := amqp.Delivery{DeliveryTag: it.tag, Body: []byte(`{"type":"test"}`)}
		select {
		case f.deliveries <- d:
		case <-f.stop:
			return
		}
	}
}

func (f *fakeChannel) NotifyClose(chan *amqp.Error) chan *amqp.Error { return f.notify }

func (f *fakeChannel) IsClosed() bool { return f.closed.Load() }

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeChannel) ConsumerTag() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumerTag
}

// fakeSetup hands out its channels in order and cancels the test context once
// they are used up, which ends Consumer.Run.
type fakeSetup struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
	calls    int
	cancel   context.CancelFunc
}

func (s *fakeSetup) Setup(ctx context.Context) (rmq.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.channels) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}

	ch := s.channels[0]
	s.channels = s.channels[1:]
	return ch, nil
}

func (s *fakeSetup) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRecorder struct {
	mu           sync.Mutex
	reconnects   int
	streamErrors int
	states       []string
}

func (r *fakeRecorder) RecordReconnect(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
}

func (r *fakeRecorder) RecordStreamError(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamErrors++
}

func (r *fakeRecorder) SetConsumerState(_, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

// verdicts returns a handler answering from a tag -> verdict table, Accept by default.
func verdicts(table map[uint64]rmq.Verdict) rmq.Handler {
	return rmq.HandlerFunc(func(_ context.Context, d *rmq.Delivery) rmq.Verdict {
		if v, ok := table[d.DeliveryTag]; ok {
			return v
		}
		return rmq.Accept
	})
}
