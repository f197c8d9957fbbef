package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
)

const ackFlushAttempts = 5

// ackGroupingTracker batches upstream acks. With a zero group time every ack is
// sent synchronously.
type ackGroupingTracker struct {
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger
	flushCh   chan struct{}

	pending   []Message
	groupTime time.Duration
	maxSize   int

	mu sync.Mutex
	// sendMu keeps flushes in order.
	sendMu sync.Mutex
}

func newAckGroupingTracker(
	transport Transport,
	groupTime time.Duration,
	maxSize int,
	clk clock.Clock,
	logger *slog.Logger,
) *ackGroupingTracker {
	return &ackGroupingTracker{
		transport: transport,
		clock:     clk,
		logger:    logger,
		flushCh:   make(chan struct{}, 1),
		groupTime: groupTime,
		maxSize:   maxSize,
	}
}

func (a *ackGroupingTracker) grouping() bool {
	return a.groupTime > 0
}

// Add queues msgs for an upstream ack.
func (a *ackGroupingTracker) Add(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	if !a.grouping() {
		a.sendMu.Lock()
		defer a.sendMu.Unlock()

		return a.send(ctx, msgs)
	}

	a.mu.Lock()
	a.pending = append(a.pending, msgs...)
	full := len(a.pending) >= a.maxSize
	a.mu.Unlock()

	if full {
		signal(a.flushCh)
	}

	return nil
}

// Pending returns the number of acks waiting for a flush.
func (a *ackGroupingTracker) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}

// Run flushes on every group tick and whenever the group is full.
func (a *ackGroupingTracker) Run(ctx context.Context) {
	ticker := a.clock.Ticker(a.groupTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.flushCh:
		}

		if err := a.Flush(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "failed to flush acknowledgments", slog.Any("error", err))
		}
	}
}

// Flush sends every pending ack. Acks that could not be delivered are dropped:
// the broker redelivers them and the application sees a duplicate.
func (a *ackGroupingTracker) Flush(ctx context.Context) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return a.send(ctx, batch)
}

func (a *ackGroupingTracker) send(ctx context.Context, msgs []Message) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.transport.Ack(ctx, msgs)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(ackFlushAttempts),
	)
	if err != nil {
		return &TransportError{Op: "ack", Err: err}
	}

	return nil
}
