package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vmyroslav/ackq-go/consumer"

const (
	SpanNameReceive   = "ackq.message.receive"
	SpanNameTransform = "ackq.message.transform"
	SpanNameHandle    = "ackq.handler.handle"
	SpanNameAck       = "ackq.message.ack"
	SpanNameRedeliver = "ackq.message.redeliver"
	SpanNameStats     = "ackq.consumer.stats"
)

// Action represents a consumer operation for observability
type Action string

const (
	ActionReceive       Action = "receive"
	ActionAck           Action = "ack"
	ActionCumulativeAck Action = "cumulative_ack"
	ActionNack          Action = "nack"
	ActionRedeliver     Action = "redeliver"
	ActionTransform     Action = "transform"
	ActionConsume       Action = "consume"
)

// WithMessageID adds the message id as a span attribute (OpenTelemetry messaging conventions).
func WithMessageID(messageID string) SpanOption {
	if messageID == "" {
		return trace.WithAttributes()
	}

	return trace.WithAttributes(attribute.String("messaging.message.id", messageID))
}

// WithConsumerName adds the consumer name as a span attribute.
func WithConsumerName(name string) SpanOption {
	if name == "" {
		return trace.WithAttributes()
	}

	return trace.WithAttributes(attribute.String("messaging.consumer.name", name))
}

// WithRedeliveryCount adds how many times the message was redelivered.
func WithRedeliveryCount(count uint32) SpanOption {
	return trace.WithAttributes(attribute.Int64("messaging.message.redelivery_count", int64(count)))
}

// WithBatchSize adds the number of messages a span covers.
func WithBatchSize(n int) SpanOption {
	return trace.WithAttributes(attribute.Int("messaging.batch.message_count", n))
}

// WithAction adds the consumer action attribute.
func WithAction(action Action) SpanOption {
	return trace.WithAttributes(attribute.String("messaging.ackq.action", string(action)))
}

func WithConsumerSpanKind() SpanOption {
	return trace.WithSpanKind(trace.SpanKindConsumer)
}

func WithClientSpanKind() SpanOption {
	return trace.WithSpanKind(trace.SpanKindClient)
}

func WithInternalSpanKind() SpanOption {
	return trace.WithSpanKind(trace.SpanKindInternal)
}
