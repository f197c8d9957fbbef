package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

// redeliveryNotifyAttempts bounds the upstream notification retries of one scan.
const redeliveryNotifyAttempts = 5

type schedulerConfig struct {
	Tick         time.Duration
	ConsumerName string
}

// redeliveryScheduler periodically moves expired unacked messages back to the
// receiver queue and tells the broker about it.
type redeliveryScheduler struct {
	cfg       schedulerConfig
	tracker   *UnackedTracker
	store     *messageStore
	queue     *receiverQueue
	transport Transport
	counters  *counters
	clock     clock.Clock
	metrics   observability.Metrics
	logger    *slog.Logger

	// scanMu serializes scans from the ticker and from explicit redelivery requests.
	scanMu sync.Mutex
}

func newRedeliveryScheduler(
	cfg schedulerConfig,
	tracker *UnackedTracker,
	store *messageStore,
	queue *receiverQueue,
	transport Transport,
	counters *counters,
	clk clock.Clock,
	metrics observability.Metrics,
	logger *slog.Logger,
) *redeliveryScheduler {
	return &redeliveryScheduler{
		cfg:       cfg,
		tracker:   tracker,
		store:     store,
		queue:     queue,
		transport: transport,
		counters:  counters,
		clock:     clk,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run scans on every tick until ctx is canceled.
func (s *redeliveryScheduler) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(ctx, "redelivery scheduler stopped")
			return
		case <-ticker.C:
			s.scan(ctx, s.clock.Now())
		}
	}
}

// scan redelivers every entry expired at now and returns how many were redelivered.
func (s *redeliveryScheduler) scan(ctx context.Context, now time.Time) int {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	expired := s.tracker.Expired(now)
	if len(expired) == 0 {
		return 0
	}

	msgs := make([]Message, 0, len(expired))

	for _, id := range expired {
		msg, err := s.store.Get(id)
		if err != nil {
			// acked between Expired and Get
			s.tracker.Acknowledge(id)

			continue
		}

		entry, ok := s.tracker.Redeliver(id, now)
		if !ok {
			continue
		}

		msgs = append(msgs, msg.redelivered(entry.RedeliveryCount))
	}

	if len(msgs) == 0 {
		return 0
	}

	s.queue.pushFront(msgs...)
	s.counters.redelivered.Add(int64(len(msgs)))

	s.metrics.Counter(ctx, observability.MetricRedeliveries, int64(len(msgs)),
		observability.WithConsumerMetric(s.cfg.ConsumerName),
	)

	s.logger.DebugContext(ctx, "redelivered unacknowledged messages",
		slog.Int("count", len(msgs)),
		slog.String("consumer", s.cfg.ConsumerName),
	)

	s.notify(ctx, msgs)

	return len(msgs)
}

// notify reports a redelivery upstream, retrying with exponential backoff.
// A final failure is only logged: the local redelivery already happened.
func (s *redeliveryScheduler) notify(ctx context.Context, msgs []Message) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.transport.Redeliver(ctx, msgs)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(redeliveryNotifyAttempts),
		backoff.WithMaxElapsedTime(10*s.cfg.Tick),
	)
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "failed to notify broker about redelivered messages",
			slog.Any("error", &TransportError{Op: "redeliver", Err: err}),
			slog.Int("count", len(msgs)),
		)
	}
}
