package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishBatchEncodes(t *testing.T) {
	w := &fakeWriter{}
	reg := prometheus.NewRegistry()
	p := NewProducerWithWriter(w, "snappy", reg)

	err := p.PublishBatch(context.Background(), "obs", []Message{
		{Key: []byte("r1"), Value: map[string]any{"step": 1}},
		{Key: []byte("r1"), Value: "raw", Headers: map[string]string{"run_id": "r1"}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	require.Equal(t, "obs", w.msgs[0].Topic)
	require.JSONEq(t, `{"step":1}`, string(w.msgs[0].Value))
	require.Equal(t, "raw", string(w.msgs[1].Value))
	require.Equal(t, []kafka.Header{{Key: "run_id", Value: []byte("r1")}}, w.msgs[1].Headers)

	m := metricsFor(reg)
	require.Equal(t, 2.0, testutil.ToFloat64(m.msgs.WithLabelValues("obs", "snappy", "ok")))
}

func TestPublishErrorCounted(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	reg := prometheus.NewRegistry()
	p := NewProducerWithWriter(w, "gzip", reg)

	err := p.PublishMessage(context.Background(), "logs", []string{"a"})
	require.ErrorContains(t, err, "leader not available")
	require.Equal(t, 1.0, testutil.ToFloat64(metricsFor(reg).errs.WithLabelValues("logs")))
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer()
	require.Error(t, err)
	_, err = NewProducer(WithBrokers("localhost:9092"), WithCompression("brotli"))
	require.ErrorContains(t, err, "unknown compression")

	p, err := NewProducer(WithBrokers("localhost:9092"), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
