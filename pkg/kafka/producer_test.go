package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishEncodesJSON(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "snappy", "pipeline.completed")

	err := p.Publish(context.Background(), "", []byte("^NSEI"), map[string]string{"run_id": "abc"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pipeline.completed", w.msgs[0].Topic)
	assert.Equal(t, []byte("^NSEI"), w.msgs[0].Key)
	assert.JSONEq(t, `{"run_id":"abc"}`, string(w.msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	p := newProducer(&recordingWriter{}, "snappy", "")
	assert.Error(t, p.Publish(context.Background(), "", nil, "x"))

	boom := errors.New("broker down")
	p = newProducer(&recordingWriter{err: boom}, "snappy", "t")
	err := p.Publish(context.Background(), "", nil, []byte("x"))
	assert.ErrorIs(t, err, boom)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestProducerOptions(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithTarget("pipeline.completed", "k1:9092", "k2:9092"),
		WithDelivery(-1, 0, true),
		WithBatching(0, 2048, 0),
	} {
		opt(cfg)
	}
	require.NoError(t, cfg.validate())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, -1, cfg.RequiredAcks)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.Async)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 2048, cfg.BatchBytes)

	WithDelivery(2, 1, false)(cfg)
	assert.Error(t, cfg.validate())
}
