package consumer

import "context"

// Transport is the broker side of a consumer session.
// Implementations must assign message ids in increasing order and must be safe
// for concurrent use: the pump, the redelivery scheduler and the ack flusher call
// it from different goroutines.
type Transport interface {
	// Connect establishes the subscription.
	Connect(ctx context.Context) error
	// Receive blocks until at least one message is available or ctx is done.
	// An empty batch without error is allowed (long poll expiry).
	Receive(ctx context.Context) ([]Message, error)
	// Ack confirms messages upstream.
	Ack(ctx context.Context, msgs []Message) error
	// Redeliver tells the broker that msgs were redelivered locally.
	Redeliver(ctx context.Context, msgs []Message) error
	// Stats returns the broker side view of the subscription.
	Stats(ctx context.Context) (TransportStats, error)
	// Close releases the subscription.
	Close(ctx context.Context) error
}

// TransportStats are the counters only the broker knows about.
type TransportStats struct {
	Address string
	Backlog int64
}
