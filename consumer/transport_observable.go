package consumer

import (
	"context"
	"time"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

// observableTransport wraps a Transport with tracing and metrics.
type observableTransport struct {
	transport    Transport
	tracer       observability.Tracer
	metrics      observability.Metrics
	consumerName string
}

func newObservableTransport(
	transport Transport,
	tracer observability.Tracer,
	metrics observability.Metrics,
	consumerName string,
) *observableTransport {
	return &observableTransport{
		transport:    transport,
		tracer:       tracer,
		metrics:      metrics,
		consumerName: consumerName,
	}
}

func (o *observableTransport) Connect(ctx context.Context) error {
	return o.count(ctx, "connect", o.transport.Connect(ctx))
}

func (o *observableTransport) Receive(ctx context.Context) ([]Message, error) {
	msgs, err := o.transport.Receive(ctx)

	return msgs, o.count(ctx, "receive", err)
}

func (o *observableTransport) Ack(ctx context.Context, msgs []Message) error {
	return o.instrument(ctx, observability.SpanNameAck, observability.ActionAck, len(msgs), func(ctx context.Context) error {
		return o.transport.Ack(ctx, msgs)
	})
}

func (o *observableTransport) Redeliver(ctx context.Context, msgs []Message) error {
	return o.instrument(ctx, observability.SpanNameRedeliver, observability.ActionRedeliver, len(msgs), func(ctx context.Context) error {
		return o.transport.Redeliver(ctx, msgs)
	})
}

func (o *observableTransport) Stats(ctx context.Context) (TransportStats, error) {
	var stats TransportStats

	err := o.instrument(ctx, observability.SpanNameStats, "", 0, func(ctx context.Context) error {
		var err error

		stats, err = o.transport.Stats(ctx)

		return err
	})

	return stats, err
}

func (o *observableTransport) Close(ctx context.Context) error {
	return o.count(ctx, "close", o.transport.Close(ctx))
}

func (o *observableTransport) count(ctx context.Context, op string, err error) error {
	o.metrics.Counter(ctx, observability.MetricTransportRequests, 1,
		observability.WithConsumerMetric(o.consumerName),
		observability.WithOperation(op),
		observability.WithStatus(statusOf(err)),
	)

	return err
}

func (o *observableTransport) instrument(
	ctx context.Context,
	spanName string,
	action observability.Action,
	batchSize int,
	operation func(context.Context) error,
) error {
	opts := []observability.SpanOption{
		observability.WithClientSpanKind(),
		observability.WithConsumerName(o.consumerName),
		observability.WithBatchSize(batchSize),
	}
	if action != "" {
		opts = append(opts, observability.WithAction(action))
	}

	spanCtx, span := o.tracer.Span(ctx, spanName, opts...)
	defer span.End()

	start := time.Now()

	err := operation(spanCtx)

	status := observability.RecordSpanResult(span, err)

	if action == observability.ActionAck {
		o.metrics.RecordDuration(ctx, observability.MetricAcknowledgmentDuration, time.Since(start),
			observability.WithConsumerMetric(o.consumerName),
			observability.WithStatus(status),
		)
	}

	o.metrics.Counter(ctx, observability.MetricTransportRequests, 1,
		observability.WithConsumerMetric(o.consumerName),
		observability.WithOperation(spanName),
		observability.WithStatus(status),
	)

	return err
}
