// Package kafka publishes per-item harvest outcomes to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

var _ harvest.OutcomePublisher = (*OutcomePublisher)(nil)

// PublisherMetrics counts produced messages per topic.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// OutcomePublisher sends each ItemOutcome as a protobuf-encoded Struct keyed
// by the work item identifier, so every outcome for one identifier lands on
// the same partition.
type OutcomePublisher struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	metrics PublisherMetrics
	tracer  trace.Tracer
}

// NewOutcomePublisher wraps producer. metrics may be nil.
func NewOutcomePublisher(
	producer sarama.SyncProducer,
	topic string,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) *OutcomePublisher {
	return &OutcomePublisher{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "outcome_publisher", "topic", topic),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// PublishOutcome produces one message for o.
func (p *OutcomePublisher) PublishOutcome(ctx context.Context, o harvest.ItemOutcome) error {
	ctx, span := startProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("harvest.item_id", o.ID.String()),
		attribute.String("harvest.outcome", string(o.Outcome)),
	)

	payload, err := encodeOutcome(o)
	if err != nil {
		span.RecordError(err)
		p.incError(ctx)
		return fmt.Errorf("failed to encode outcome for %s: %w", o.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(o.ID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: o.At,
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		p.incError(ctx)
		return fmt.Errorf("failed to send outcome to kafka topic %s: %w", p.topic, err)
	}

	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, p.topic)
	}
	p.logger.Debug(ctx, "Published outcome",
		"item_id", o.ID,
		"outcome", o.Outcome,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close flushes and closes the underlying producer.
func (p *OutcomePublisher) Close() error { return p.producer.Close() }

func (p *OutcomePublisher) incError(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.IncPublishError(ctx, p.topic)
	}
}

func encodeOutcome(o harvest.ItemOutcome) ([]byte, error) {
	result := make(map[string]any, len(o.Result))
	for period, v := range o.Result {
		result[period] = v
	}

	fields := map[string]any{
		"run_id":   o.RunID,
		"index":    o.Index,
		"id":       o.ID.String(),
		"outcome":  string(o.Outcome),
		"attempts": o.Attempts,
		"at":       o.At.UTC().Format(time.RFC3339Nano),
		"result":   result,
	}
	if o.Err != "" {
		fields["error"] = o.Err
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// decodeOutcome reverses encodeOutcome.
func decodeOutcome(b []byte) (harvest.ItemOutcome, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return harvest.ItemOutcome{}, err
	}
	f := st.GetFields()

	o := harvest.ItemOutcome{
		RunID:    f["run_id"].GetStringValue(),
		Index:    int(f["index"].GetNumberValue()),
		ID:       harvest.WorkItem(f["id"].GetStringValue()),
		Outcome:  harvest.Outcome(f["outcome"].GetStringValue()),
		Attempts: int(f["attempts"].GetNumberValue()),
		Err:      f["error"].GetStringValue(),
	}
	if at := f["at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return harvest.ItemOutcome{}, fmt.Errorf("parse outcome time: %w", err)
		}
		o.At = t
	}
	if res := f["result"].GetStructValue(); res != nil && len(res.GetFields()) > 0 {
		o.Result = make(harvest.ItemResult, len(res.GetFields()))
		for period, v := range res.GetFields() {
			o.Result[period] = v.GetNumberValue()
		}
	}
	return o, nil
}
