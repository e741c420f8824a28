package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zerolog.Nop())
	p.Start()

	require.NoError(t, p.Publish("order.created", []byte("ORD-1"), []byte(`{}`), EventHeaders("OrderCreated", 1)...))
	require.NoError(t, p.Publish("order.status.changed", []byte("ORD-1"), []byte(`{}`)))
	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "order.created", w.msgs[0].Topic)
	assert.Equal(t, "OrderCreated", HeaderValue(w.msgs[0], HeaderEventType))
	assert.Equal(t, "1", HeaderValue(w.msgs[0], HeaderEventVersion))
	assert.Equal(t, "order.status.changed", w.msgs[1].Topic)
	assert.True(t, w.closed)

	assert.ErrorIs(t, p.Publish("order.created", nil, nil), ErrProducerClosed)
	p.Close() // second close is a no-op
}

func TestProducerBufferFull(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, zerolog.Nop())
	// not started: nothing drains the inbox
	require.NoError(t, p.Publish("t", nil, nil))
	assert.ErrorIs(t, p.Publish("t", nil, nil), ErrBufferFull)
}

func TestProducerWriteErrorIsNotFatal(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := newProducer(w, 4, zerolog.Nop())
	p.Start()
	require.NoError(t, p.Publish("t", nil, []byte("x")))
	p.Close()
	p.WaitClosed()
	assert.Empty(t, w.msgs)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func runConsumer(t *testing.T, c *Consumer, h Handler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestConsumerRetriesUntilHandled(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 2, zerolog.Nop())
	c.backoff = time.Millisecond

	var calls atomic.Int32
	stop := runConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Offset == 2 && calls.Add(1) < 3 {
			return errors.New("redis down")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	stop()

	// offset 3 is never committed ahead of offset 2
	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	assert.EqualValues(t, 3, calls.Load())
	assert.True(t, r.closed)
}

func TestConsumerSkipsMessageAfterLastAttempt(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 2, zerolog.Nop())
	c.attempts = 3
	c.backoff = time.Millisecond

	var calls atomic.Int32
	stop := runConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Offset == 2 {
			calls.Add(1)
			return errors.New("boom")
		}
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	assert.EqualValues(t, 3, calls.Load())
}

func TestConsumerKeepsPartitionOrder(t *testing.T) {
	var queue []kafka.Message
	for off := int64(0); off < 6; off++ {
		queue = append(queue, kafka.Message{Partition: 0, Offset: off}, kafka.Message{Partition: 1, Offset: off})
	}
	r := &fakeReader{queue: queue}
	c := newConsumer(r, 3, zerolog.Nop())

	var mu sync.Mutex
	seen := map[int][]int64{}
	stop := runConsumer(t, c, func(_ context.Context, m kafka.Message) error {
		if m.Offset%2 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		seen[m.Partition] = append(seen[m.Partition], m.Offset)
		mu.Unlock()
		return nil
	})

	require.Eventually(t, func() bool { return len(r.commits()) == 12 }, time.Second, 5*time.Millisecond)
	stop()

	want := []int64{0, 1, 2, 3, 4, 5}
	assert.Equal(t, want, seen[0])
	assert.Equal(t, want, seen[1])
}

func TestConsumerCommitsNothingAfterShutdown(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}}}
	c := newConsumer(r, 1, zerolog.Nop())
	c.backoff = time.Hour

	started := make(chan struct{})
	var once sync.Once
	stop := runConsumer(t, c, func(context.Context, kafka.Message) error {
		once.Do(func() { close(started) })
		return errors.New("redis down")
	})

	<-started
	stop()
	assert.Empty(t, r.commits())
	assert.True(t, r.closed)
}

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		Number string `json:"numero_orden"`
	}
	p, err := UnwrapPayload[payload](json.RawMessage(`{"numero_orden":"ORD-9"}`))
	require.NoError(t, err)
	assert.Equal(t, "ORD-9", p.Number)

	_, err = UnwrapPayload[payload](json.RawMessage(`[`))
	assert.Error(t, err)
}
