package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index-built")

	err := p.Publish(context.Background(), Event{Key: "v1", Type: "index.built", Value: map[string]int{"documents": 2}})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "v1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"documents":2}`, string(w.msgs[0].Value))
	assert.Contains(t, w.msgs[0].Headers, kafka.Header{Key: "event-type", Value: []byte("index.built")})

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPublishErrors(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "t")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Value: 1}), "broker down")

	p = newProducer(&fakeWriter{}, "t")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Value: make(chan int)}), "marshaling")
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	close(r.drained)
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

func (r *fakeReader) Close() error { r.closed = true; return nil }

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Value: []byte("ok")},
			{Offset: 2, Value: []byte("fail")},
			{Offset: 3, Value: []byte("ok")},
		},
		drained: make(chan struct{}),
	}
	var seen []string
	c := newConsumer(r, "t", func(_ context.Context, _ []byte, value []byte) error {
		seen = append(seen, string(value))
		if string(value) == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Start(ctx) }()
	<-r.drained
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"ok", "fail", "ok"}, seen)
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}

func TestDecodeJSON(t *testing.T) {
	type ev struct {
		Version string `json:"version"`
	}
	got, err := DecodeJSON[ev]([]byte(`{"version":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Version)

	_, err = DecodeJSON[ev]([]byte(`{`))
	assert.Error(t, err)
}
