package observability

import (
	"context"
	"time"
)

// Middleware wraps a handler with a handle span and processing metrics.
func Middleware[T any](tracer Tracer, metrics Metrics, consumerName string) func(next func(ctx context.Context, msg T) error) func(ctx context.Context, msg T) error {
	return func(next func(ctx context.Context, msg T) error) func(ctx context.Context, msg T) error {
		return func(ctx context.Context, msg T) error {
			handlerCtx, handlerSpan := tracer.Span(ctx, SpanNameHandle,
				WithInternalSpanKind(),
				WithAction(ActionConsume),
				WithConsumerName(consumerName),
			)
			defer handlerSpan.End()

			start := time.Now()

			err := next(handlerCtx, msg)

			status := RecordSpanResult(handlerSpan, err)

			metrics.RecordDuration(ctx, MetricProcessingDuration, time.Since(start),
				WithConsumerMetric(consumerName),
				WithStatus(status),
			)

			metrics.Counter(ctx, MetricMessages, 1,
				WithConsumerMetric(consumerName),
				WithActionMetric(ActionConsume),
				WithStatus(status),
			)

			return err
		}
	}
}
