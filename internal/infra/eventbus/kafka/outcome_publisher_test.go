package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

type countingMetrics struct {
	mu        sync.Mutex
	published map[string]int
	errors    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) IncMessagePublished(_ context.Context, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic]++
}

func (m *countingMetrics) IncPublishError(_ context.Context, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[topic]++
}

func sampleOutcome() harvest.ItemOutcome {
	return harvest.ItemOutcome{
		RunID:    "run-1",
		Index:    4,
		ID:       "1001",
		Outcome:  harvest.OutcomeSucceeded,
		Result:   harvest.ItemResult{"JAN-2024": 12.5, "FEB-2024": 0},
		Attempts: 2,
		At:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOutcomePublisher_PublishOutcome(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := newCountingMetrics()
	pub := NewOutcomePublisher(producer, "harvest.outcomes", logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))

	want := sampleOutcome()
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "1001", string(key))
		assert.Equal(t, "harvest.outcomes", msg.Topic)

		val, err := msg.Value.Encode()
		require.NoError(t, err)
		got, err := decodeOutcome(val)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		return nil
	})

	require.NoError(t, pub.PublishOutcome(context.Background(), want))
	require.NoError(t, pub.Close())
	assert.Equal(t, 1, metrics.published["harvest.outcomes"])
	assert.Zero(t, metrics.errors["harvest.outcomes"])
}

func TestOutcomePublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := newCountingMetrics()
	pub := NewOutcomePublisher(producer, "harvest.outcomes", logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))

	brokerErr := errors.New("leader not available")
	producer.ExpectSendMessageAndFail(brokerErr)

	err := pub.PublishOutcome(context.Background(), sampleOutcome())
	require.Error(t, err)
	assert.ErrorIs(t, err, brokerErr)
	require.NoError(t, pub.Close())
	assert.Equal(t, 1, metrics.errors["harvest.outcomes"])
}

func TestEncodeOutcome_FailedItem(t *testing.T) {
	o := harvest.ItemOutcome{
		RunID:    "run-2",
		Index:    0,
		ID:       "2002",
		Outcome:  harvest.OutcomeFailed,
		Attempts: 3,
		Err:      "exhausted retries",
		At:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	b, err := encodeOutcome(o)
	require.NoError(t, err)
	got, err := decodeOutcome(b)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestHeaderCarrier(t *testing.T) {
	c := &headerCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	c.Set("tracestate", "k=v")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Empty(t, c.Get("missing"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, c.Keys())
}
