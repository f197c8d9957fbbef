package consumer

import (
	"sync"
	"sync/atomic"
	"time"
)

// BrokerConsumerStats is an immutable snapshot of a consumer's counters.
// Rates are averaged over the window between two refreshes.
type BrokerConsumerStats struct {
	ConnectedSince time.Time
	RefreshedAt    time.Time
	ValidUntil     time.Time

	ConsumerName     string
	Address          string
	SubscriptionType SubscriptionType

	// MsgRateOut is the rate of messages delivered to the application, msg/s.
	MsgRateOut float64
	// MsgThroughputOut is the rate of payload bytes delivered to the application, bytes/s.
	MsgThroughputOut float64
	// MsgRateRedeliver is the rate of local redeliveries, msg/s.
	MsgRateRedeliver float64

	// MsgBacklog is the broker backlog: undelivered plus unacknowledged messages.
	MsgBacklog       int64
	UnackedMessages  int64
	AvailablePermits int64

	BlockedConsumerOnUnackedMsgs bool
}

// IsValid reports whether the snapshot may still be served from cache at now.
func (s BrokerConsumerStats) IsValid(now time.Time) bool {
	return !s.RefreshedAt.IsZero() && now.Before(s.ValidUntil)
}

// counters are the session-local monotonic counters stats are derived from.
type counters struct {
	delivered      atomic.Int64
	deliveredBytes atomic.Int64
	redelivered    atomic.Int64
	acked          atomic.Int64
	nacked         atomic.Int64
}

type counterSample struct {
	at             time.Time
	delivered      int64
	deliveredBytes int64
	redelivered    int64
}

func (c *counters) sample(at time.Time) counterSample {
	return counterSample{
		at:             at,
		delivered:      c.delivered.Load(),
		deliveredBytes: c.deliveredBytes.Load(),
		redelivered:    c.redelivered.Load(),
	}
}

// statsInput is everything a refresh combines into a snapshot.
type statsInput struct {
	transport      TransportStats
	now            time.Time
	connectedSince time.Time
	name           string
	subscription   SubscriptionType
	unacked        int64
	queued         int64
	queueCapacity  int64
}

// statsCache keeps the last snapshot and the counter sample it was computed from.
type statsCache struct {
	snapshot BrokerConsumerStats
	last     counterSample
	ttl      time.Duration

	mu sync.Mutex
}

func newStatsCache(ttl time.Duration, start counterSample) *statsCache {
	return &statsCache{ttl: ttl, last: start}
}

// Get returns the cached snapshot if it is still valid at now.
func (c *statsCache) Get(now time.Time) (BrokerConsumerStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.snapshot.IsValid(now) {
		return BrokerConsumerStats{}, false
	}

	return c.snapshot, true
}

// Refresh builds and caches a new snapshot from cur and in.
func (c *statsCache) Refresh(cur counterSample, in statsInput) BrokerConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rateOut, throughputOut, rateRedeliver float64

	if elapsed := cur.at.Sub(c.last.at).Seconds(); elapsed > 0 {
		rateOut = float64(cur.delivered-c.last.delivered) / elapsed
		throughputOut = float64(cur.deliveredBytes-c.last.deliveredBytes) / elapsed
		rateRedeliver = float64(cur.redelivered-c.last.redelivered) / elapsed
	}

	permits := max(in.queueCapacity-in.queued, 0)

	c.snapshot = BrokerConsumerStats{
		ConnectedSince:               in.connectedSince,
		RefreshedAt:                  in.now,
		ValidUntil:                   in.now.Add(c.ttl),
		ConsumerName:                 in.name,
		Address:                      in.transport.Address,
		SubscriptionType:             in.subscription,
		MsgRateOut:                   rateOut,
		MsgThroughputOut:             throughputOut,
		MsgRateRedeliver:             rateRedeliver,
		MsgBacklog:                   in.transport.Backlog,
		UnackedMessages:              in.unacked,
		AvailablePermits:             permits,
		BlockedConsumerOnUnackedMsgs: permits == 0,
	}
	c.last = cur

	return c.snapshot
}
