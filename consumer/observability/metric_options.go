package observability

import "go.opentelemetry.io/otel/attribute"

const (
	meterName = "github.com/vmyroslav/ackq-go/consumer"
)

// MetricName defines a type-safe enumeration for all metric names.
type MetricName string

const (
	// MetricMessages counts messages by action (receive, ack, nack, redeliver) and status.
	MetricMessages MetricName = "ackq_messages"
	// MetricRedeliveries counts local redeliveries.
	MetricRedeliveries MetricName = "ackq_redeliveries"
	// MetricUnackedMessages is the number of delivered, unacknowledged messages.
	MetricUnackedMessages MetricName = "ackq_unacked_messages"
	// MetricReceiverQueueSize is the number of messages waiting for Receive.
	MetricReceiverQueueSize MetricName = "ackq_receiver_queue_size"
	// MetricPendingAcks is the number of acks waiting for the next group flush.
	MetricPendingAcks MetricName = "ackq_pending_acks"
	// MetricMessagesReceived is the batch size of each transport receive.
	MetricMessagesReceived MetricName = "ackq_messages_received"
	// MetricTransportRequests counts transport calls.
	MetricTransportRequests MetricName = "ackq_transport_requests"
	// MetricReceiveDuration is the time an application waited in Receive.
	MetricReceiveDuration MetricName = "ackq_receive_duration"
	// MetricProcessingDuration is the time a listener handler took.
	MetricProcessingDuration MetricName = "ackq_processing_duration"
	// MetricAcknowledgmentDuration is the time an upstream ack flush took.
	MetricAcknowledgmentDuration MetricName = "ackq_acknowledgment_duration"
)

// InstrumentKind is how a metric is recorded.
type InstrumentKind int

const (
	KindCounter InstrumentKind = iota
	KindHistogram
	// KindSessionGauge metrics are read from a session on collection, see Metrics.ObserveSession.
	KindSessionGauge
)

// MetricMetadata holds static information about a metric.
type MetricMetadata struct {
	Description string
	Unit        string
	Kind        InstrumentKind
	// Buckets overrides the configured duration buckets of a histogram.
	Buckets []float64
}

// batchBuckets match the receive batch sizes of SQS and most brokers.
var batchBuckets = []float64{0, 1, 2, 5, 10, 50, 100}

// metricInfo is the registry every instrument is created from.
var metricInfo = map[MetricName]MetricMetadata{
	MetricMessages:               {Description: "Total number of messages handled by the consumer.", Unit: "1", Kind: KindCounter},
	MetricRedeliveries:           {Description: "Total number of messages redelivered after an expired deadline or a negative ack.", Unit: "1", Kind: KindCounter},
	MetricTransportRequests:      {Description: "Total number of broker transport calls.", Unit: "1", Kind: KindCounter},
	MetricUnackedMessages:        {Description: "Number of delivered messages waiting for an acknowledgment.", Unit: "1", Kind: KindSessionGauge},
	MetricReceiverQueueSize:      {Description: "Number of messages buffered for the application.", Unit: "1", Kind: KindSessionGauge},
	MetricPendingAcks:            {Description: "Number of acknowledgments waiting for the next group flush.", Unit: "1", Kind: KindSessionGauge},
	MetricMessagesReceived:       {Description: "Number of messages received in a single transport call.", Unit: "1", Kind: KindHistogram, Buckets: batchBuckets},
	MetricReceiveDuration:        {Description: "The time the application waited for a message.", Unit: "s", Kind: KindHistogram},
	MetricProcessingDuration:     {Description: "The end-to-end duration to process a message.", Unit: "s", Kind: KindHistogram},
	MetricAcknowledgmentDuration: {Description: "The duration of an upstream acknowledgment flush.", Unit: "s", Kind: KindHistogram},
}

// MetricOption defines a function that adds a label to a metric.
type MetricOption func() attribute.KeyValue

// WithStatus creates a label for the status of an operation (e.g., "success", "failure").
func WithStatus(status string) MetricOption {
	return func() attribute.KeyValue {
		return attribute.String("status", status)
	}
}

// WithActionMetric creates a metric label for the type of action using type-safe Action constants.
func WithActionMetric(action Action) MetricOption {
	return func() attribute.KeyValue {
		return attribute.String("action", string(action))
	}
}

// WithConsumerMetric creates a metric label for the consumer name.
func WithConsumerMetric(name string) MetricOption {
	return func() attribute.KeyValue {
		return attribute.String("consumer", name)
	}
}

// WithOperation creates a label for the transport operation.
func WithOperation(op string) MetricOption {
	return func() attribute.KeyValue {
		return attribute.String("operation", op)
	}
}
