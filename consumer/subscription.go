package consumer

type SubscriptionType string

const (
	// Exclusive is the default subscription type. A single consumer owns the subscription.
	Exclusive SubscriptionType = "exclusive"
	// Failover lets a standby consumer take over when the active one disconnects.
	Failover SubscriptionType = "failover"
	// Shared spreads messages across consumers. Cumulative acks are not allowed.
	Shared SubscriptionType = "shared"
	// KeyShared spreads messages across consumers by key. Cumulative acks are not allowed.
	KeyShared SubscriptionType = "key_shared"
)

func (s SubscriptionType) IsValid() bool {
	switch s {
	case Exclusive, Failover, Shared, KeyShared:
		return true
	default:
		return false
	}
}

// AllowsCumulativeAck reports whether acknowledging up to an id is meaningful:
// only when a single consumer sees the whole ordered stream.
func (s SubscriptionType) AllowsCumulativeAck() bool {
	switch s {
	case Shared, KeyShared:
		return false
	case Exclusive, Failover:
		fallthrough //nolint:gocritic
	default:
		return true
	}
}
