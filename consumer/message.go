package consumer

import (
	"strconv"
	"time"
)

// MessageID identifies a message within a session.
// IDs are assigned by the transport in strictly increasing order, which is what
// cumulative acknowledgment relies on.
type MessageID uint64

func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Message is a message delivered to the application.
// It is a value type: the session hands out copies and never mutates a delivered message.
type Message struct {
	PublishTime time.Time

	Properties map[string]string
	Payload    []byte
	Key        string

	// handle is the transport specific token used to ack the message upstream
	// (a receipt handle for SQS).
	handle string

	ID              MessageID
	RedeliveryCount uint32
}

// NewMessage builds a message as a transport would deliver it.
func NewMessage(id MessageID, payload []byte, opts ...MessageOption) Message {
	m := Message{ID: id, Payload: payload}

	for _, opt := range opts {
		opt(&m)
	}

	return m
}

// MessageOption configures a message built by NewMessage.
type MessageOption func(*Message)

// WithKey sets the partition key.
func WithKey(key string) MessageOption {
	return func(m *Message) {
		m.Key = key
	}
}

// WithProperties sets the message properties.
func WithProperties(props map[string]string) MessageOption {
	return func(m *Message) {
		m.Properties = props
	}
}

// WithPublishTime sets the broker publish timestamp.
func WithPublishTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.PublishTime = t
	}
}

// WithHandle sets the transport handle used for upstream acknowledgment.
func WithHandle(handle string) MessageOption {
	return func(m *Message) {
		m.handle = handle
	}
}

// Handle returns the transport handle of the message.
func (m Message) Handle() string {
	return m.handle
}

// Property returns a single property value.
func (m Message) Property(key string) (string, bool) {
	v, ok := m.Properties[key]

	return v, ok
}

// IsRedelivery reports whether the message was delivered before.
func (m Message) IsRedelivery() bool {
	return m.RedeliveryCount > 0
}

func (m Message) size() int {
	return len(m.Payload)
}

// redelivered returns a copy with the redelivery count set.
// Properties are shared, they are never written after delivery.
func (m Message) redelivered(count uint32) Message {
	m.RedeliveryCount = count

	return m
}
