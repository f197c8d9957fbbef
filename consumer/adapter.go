package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

// JSONMessageAdapter decodes the message payload as JSON.
type JSONMessageAdapter[T any] struct{}

func NewJSONMessageAdapter[T any]() *JSONMessageAdapter[T] {
	return &JSONMessageAdapter[T]{}
}

func (a *JSONMessageAdapter[T]) Transform(_ context.Context, msg Message) (T, error) {
	var m T

	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return m, fmt.Errorf("failed to unmarshal message %s payload: %w", msg.ID, err)
	}

	return m, nil
}

// PassThroughAdapter hands the Message itself to the handler.
type PassThroughAdapter struct{}

func NewPassThroughAdapter() *PassThroughAdapter {
	return &PassThroughAdapter{}
}

func (a *PassThroughAdapter) Transform(_ context.Context, msg Message) (Message, error) {
	return msg, nil
}

// observableMessageAdapter wraps a MessageAdapter with observability instrumentation
type observableMessageAdapter[T any] struct {
	adapter      MessageAdapter[T]
	tracer       observability.Tracer
	metrics      observability.Metrics
	consumerName string
}

func newObservableMessageAdapter[T any](
	adapter MessageAdapter[T],
	tracer observability.Tracer,
	metrics observability.Metrics,
	consumerName string,
) *observableMessageAdapter[T] {
	return &observableMessageAdapter[T]{
		adapter:      adapter,
		tracer:       tracer,
		metrics:      metrics,
		consumerName: consumerName,
	}
}

func (d *observableMessageAdapter[T]) Transform(ctx context.Context, msg Message) (T, error) {
	tCtx, transformSpan := d.tracer.Span(ctx, observability.SpanNameTransform,
		observability.WithInternalSpanKind(),
		observability.WithMessageID(msg.ID.String()),
		observability.WithConsumerName(d.consumerName),
	)
	defer transformSpan.End()

	start := time.Now()

	result, err := d.adapter.Transform(tCtx, msg)

	status := observability.RecordSpanResult(transformSpan, err)

	d.metrics.RecordDuration(ctx, observability.MetricProcessingDuration, time.Since(start),
		observability.WithConsumerMetric(d.consumerName),
		observability.WithActionMetric(observability.ActionTransform),
		observability.WithStatus(status),
	)

	d.metrics.Counter(ctx, observability.MetricMessages, 1,
		observability.WithConsumerMetric(d.consumerName),
		observability.WithActionMetric(observability.ActionTransform),
		observability.WithStatus(status),
	)

	return result, err //nolint:wrapcheck
}
