package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

const connectAttempts = 5

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateReady
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionOption configures the runtime collaborators of a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// Session is a consumer subscription: it receives messages from a Transport,
// tracks their acknowledgment deadlines and redelivers the ones that expire.
type Session struct {
	cfg       Config
	name      string
	transport Transport

	store     *messageStore
	tracker   *UnackedTracker
	queue     *receiverQueue
	poller    *transportPoller
	scheduler *redeliveryScheduler
	acks      *ackGroupingTracker
	stats     *statsCache
	counters  *counters

	statsGroup singleflight.Group

	clock   clock.Clock
	logger  *slog.Logger
	tracer  observability.Tracer
	metrics observability.Metrics
	obs     *observability.Config

	unobserve func() error

	cancel   context.CancelFunc
	bg       sync.WaitGroup
	ops      sync.WaitGroup
	closedCh chan struct{}

	connectedSince time.Time
	state          SessionState

	mu sync.Mutex
}

// Subscribe connects transport and starts a ready session.
func Subscribe(ctx context.Context, cfg Config, transport Transport, opts ...SessionOption) (*Session, error) {
	if _, err := cfg.IsValid(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		name:     cfg.ConsumerName,
		store:    newMessageStore(),
		tracker:  NewUnackedTracker(cfg.UnAckedMessagesTimeout),
		queue:    newReceiverQueue(cfg.ReceiverQueueSize),
		counters: &counters{},
		clock:    clock.New(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		obs:      cfg.Observability.OrDefault(),
		closedCh: make(chan struct{}),
		state:    StateConnecting,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.name == "" {
		s.name = uuid.NewString()
	}

	s.logger = s.logger.With(slog.String("consumer", s.name))
	s.tracer = observability.NewTracer(s.obs)
	s.metrics = observability.NewMetrics(s.obs)
	s.transport = newObservableTransport(transport, s.tracer, s.metrics, s.name)

	s.stats = newStatsCache(cfg.BrokerConsumerStatsCacheTime, s.counters.sample(s.clock.Now()))
	s.acks = newAckGroupingTracker(s.transport, cfg.AckGroupTime, cfg.MaxAckGroupSize, s.clock, s.logger)
	s.poller = newTransportPoller(
		pollerConfig{ConsumerName: s.name, ErrorNumberThreshold: cfg.ErrorNumberThreshold},
		s.transport, s.store, s.queue, s.clock, s.metrics, s.logger,
	)
	s.scheduler = newRedeliveryScheduler(
		schedulerConfig{Tick: cfg.effectiveTick(), ConsumerName: s.name},
		s.tracker, s.store, s.queue, s.transport, s.counters, s.clock, s.metrics, s.logger,
	)

	if err := s.connect(ctx); err != nil {
		s.setState(StateClosed)
		close(s.closedCh)

		return nil, err
	}

	s.observeGauges(ctx)

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.goBackground(func() {
		if err := s.poller.Poll(bgCtx); err != nil {
			s.logger.ErrorContext(bgCtx, "poller stopped", slog.Any("error", err))
		}
	})
	s.goBackground(func() { s.scheduler.Run(bgCtx) })

	if s.acks.grouping() {
		s.goBackground(func() { s.acks.Run(bgCtx) })
	}

	s.mu.Lock()
	s.connectedSince = s.clock.Now()
	s.state = StateReady
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "consumer session ready",
		slog.String("subscription_type", string(cfg.SubscriptionType)),
		slog.Duration("unacked_timeout", cfg.UnAckedMessagesTimeout),
	)

	return s, nil
}

func (s *Session) connect(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.transport.Connect(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.WarnContext(ctx, "failed to connect, retrying",
				slog.Any("error", err),
				slog.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	return nil
}

func (s *Session) observeGauges(ctx context.Context) {
	unobserve, err := s.metrics.ObserveSession(s.name, observability.SessionGauges{
		Unacked:     func() int64 { return int64(s.tracker.Len()) },
		Queued:      func() int64 { return int64(s.queue.len()) },
		PendingAcks: func() int64 { return int64(s.acks.Pending()) },
	})
	if err != nil {
		s.logger.WarnContext(ctx, "session gauges are not reported", slog.Any("error", err))

		unobserve = func() error { return nil }
	}

	s.unobserve = unobserve
}

func (s *Session) goBackground(fn func()) {
	s.bg.Add(1)

	go func() {
		defer s.bg.Done()

		fn()
	}()
}

// enter registers an in-progress operation. The returned func must be called when it ends.
func (s *Session) enter() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		s.ops.Add(1)

		return s.ops.Done, nil
	case StateConnecting:
		return nil, ErrNotReady
	default:
		return nil, ErrClosed
	}
}

// Receive waits for the next message. The deadline of ctx bounds the wait and
// turns into a *TimeoutError; a canceled ctx returns its error.
func (s *Session) Receive(ctx context.Context) (Message, error) {
	done, err := s.enter()
	if err != nil {
		return Message{}, err
	}
	defer done()

	start := s.clock.Now()

	for {
		msg, err := s.queue.pop(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return Message{}, &TimeoutError{Waited: s.clock.Since(start)}
			}

			return Message{}, err
		}

		// a queued redelivery whose original was acked meanwhile
		if _, err = s.store.Get(msg.ID); err != nil {
			continue
		}

		now := s.clock.Now()
		s.tracker.Add(msg.ID, now)
		s.counters.delivered.Add(1)
		s.counters.deliveredBytes.Add(int64(msg.size()))

		s.observeReceive(ctx, msg, now.Sub(start))

		return msg, nil
	}
}

// ReceiveTimeout is Receive bounded by timeout.
func (s *Session) ReceiveTimeout(ctx context.Context, timeout time.Duration) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.Receive(ctx)
}

func (s *Session) observeReceive(ctx context.Context, msg Message, waited time.Duration) {
	spanCtx := observability.ExtractTraceContext(ctx, msg.Properties, s.obs.Propagator())

	_, span := s.tracer.Span(spanCtx, observability.SpanNameReceive,
		observability.WithConsumerSpanKind(),
		observability.WithAction(observability.ActionReceive),
		observability.WithMessageID(msg.ID.String()),
		observability.WithConsumerName(s.name),
		observability.WithRedeliveryCount(msg.RedeliveryCount),
	)
	observability.SetSpanSuccess(span)
	span.End()

	s.metrics.RecordDuration(ctx, observability.MetricReceiveDuration, waited,
		observability.WithConsumerMetric(s.name),
	)
	s.metrics.Counter(ctx, observability.MetricMessages, 1,
		observability.WithConsumerMetric(s.name),
		observability.WithActionMetric(observability.ActionReceive),
		observability.WithStatus(observability.StatusSuccess),
	)
}

// Acknowledge acknowledges a single message. Acknowledging a message twice is a no-op.
// An id Receive never returned fails with ErrNotFound, including a message that is
// still buffered for delivery.
func (s *Session) Acknowledge(ctx context.Context, id MessageID) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	if !s.tracker.Acknowledge(id) {
		return s.untracked("acknowledge", id)
	}

	msg, err := s.store.Get(id)
	if err != nil {
		// removed by a concurrent cumulative ack
		return nil //nolint:nilerr
	}

	_ = s.store.Remove(id)

	return s.ackUpstream(ctx, observability.ActionAck, msg)
}

// AcknowledgeCumulative acknowledges every delivered message with an id up to and including id.
func (s *Session) AcknowledgeCumulative(ctx context.Context, id MessageID) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	if !s.cfg.SubscriptionType.AllowsCumulativeAck() {
		return ErrCumulativeAckNotAllowed
	}

	if !s.store.Seen(id) {
		return fmt.Errorf("acknowledge cumulative %s: %w", id, ErrNotFound)
	}

	ids := s.tracker.AcknowledgeUpTo(id)
	msgs := make([]Message, 0, len(ids))

	for _, ackID := range ids {
		msg, err := s.store.Get(ackID)
		if err != nil {
			continue
		}

		_ = s.store.Remove(ackID)
		msgs = append(msgs, msg)
	}

	return s.ackUpstream(ctx, observability.ActionCumulativeAck, msgs...)
}

func (s *Session) ackUpstream(ctx context.Context, action observability.Action, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.counters.acked.Add(int64(len(msgs)))

	err := s.acks.Add(ctx, msgs...)

	s.metrics.Counter(ctx, observability.MetricMessages, int64(len(msgs)),
		observability.WithConsumerMetric(s.name),
		observability.WithActionMetric(action),
		observability.WithStatus(statusOf(err)),
	)

	return err
}

// untracked resolves an ack or nack of an id the tracker does not hold. A message
// still in the store was never delivered; one that left it was acknowledged before.
func (s *Session) untracked(op string, id MessageID) error {
	if _, err := s.store.Get(id); err == nil || !s.store.Seen(id) {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}

	return nil
}

// NegativeAcknowledge schedules the message for redelivery after the nack delay.
// Nacking a message whose redelivered copy is still queued does not queue another one.
func (s *Session) NegativeAcknowledge(ctx context.Context, id MessageID) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	entry, ok := s.tracker.Get(id)
	if !ok {
		return s.untracked("negative acknowledge", id)
	}

	s.tracker.Reschedule(id, s.clock.Now().Add(s.cfg.nackDelay(entry.RedeliveryCount)))
	s.counters.nacked.Add(1)

	s.metrics.Counter(ctx, observability.MetricMessages, 1,
		observability.WithConsumerMetric(s.name),
		observability.WithActionMetric(observability.ActionNack),
		observability.WithStatus(observability.StatusSuccess),
	)

	return nil
}

// RedeliverUnacknowledged redelivers every unacknowledged message right away
// and returns how many were redelivered.
func (s *Session) RedeliverUnacknowledged(ctx context.Context) (int, error) {
	done, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer done()

	now := s.clock.Now()
	s.tracker.RescheduleAll(now)

	return s.scheduler.scan(ctx, now), nil
}

// BrokerConsumerStats returns a stats snapshot, served from cache while it is valid.
func (s *Session) BrokerConsumerStats(ctx context.Context) (BrokerConsumerStats, error) {
	done, err := s.enter()
	if err != nil {
		return BrokerConsumerStats{}, err
	}
	defer done()

	if snapshot, ok := s.stats.Get(s.clock.Now()); ok {
		return snapshot, nil
	}

	v, err, _ := s.statsGroup.Do("stats", func() (any, error) {
		now := s.clock.Now()
		if snapshot, ok := s.stats.Get(now); ok {
			return snapshot, nil
		}

		ts, err := s.transport.Stats(ctx)
		if err != nil {
			return nil, &TransportError{Op: "stats", Err: err}
		}

		s.mu.Lock()
		connectedSince := s.connectedSince
		s.mu.Unlock()

		return s.stats.Refresh(s.counters.sample(now), statsInput{
			transport:      ts,
			now:            now,
			connectedSince: connectedSince,
			name:           s.name,
			subscription:   s.cfg.SubscriptionType,
			unacked:        int64(s.tracker.Len()),
			queued:         int64(s.queue.len()),
			queueCapacity:  int64(s.cfg.ReceiverQueueSize),
		}), nil
	})
	if err != nil {
		return BrokerConsumerStats{}, err
	}

	return v.(BrokerConsumerStats), nil //nolint:forcetypeassert
}

// Close stops the session. In-progress operations finish, pending acks are
// flushed upstream and the transport is closed. Failures are logged and the
// session ends up closed regardless.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateClosing:
		s.mu.Unlock()

		select {
		case <-s.closedCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case StateClosed:
		s.mu.Unlock()

		return nil
	}

	s.state = StateClosing
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "closing consumer session")

	closeCtx, cancel := context.WithTimeout(ctx, s.cfg.GracefulShutdownTimeout)
	defer cancel()

	s.queue.close()

	if !waitGroupWithContext(closeCtx, &s.ops) {
		s.logger.WarnContext(ctx, "in-progress operations did not finish in time, forcing close")
	}

	s.cancel()

	if !waitGroupWithContext(closeCtx, &s.bg) {
		s.logger.WarnContext(ctx, "background tasks did not stop in time, forcing close")
	}

	// the waits above may have used up closeCtx
	flushCtx, cancelFlush := context.WithTimeout(ctx, s.cfg.GracefulShutdownTimeout)
	defer cancelFlush()

	var errs []error

	if err := s.acks.Flush(flushCtx); err != nil {
		s.logger.ErrorContext(ctx, "failed to flush pending acknowledgments on close", slog.Any("error", err))
		errs = append(errs, err)
	}

	if err := s.transport.Close(flushCtx); err != nil {
		s.logger.ErrorContext(ctx, "failed to close transport", slog.Any("error", err))
		errs = append(errs, &TransportError{Op: "close", Err: err})
	}

	if err := s.unobserve(); err != nil {
		s.logger.WarnContext(ctx, "failed to unregister session gauges", slog.Any("error", err))
	}

	s.setState(StateClosed)
	close(s.closedCh)

	s.logger.InfoContext(ctx, "consumer session closed", slog.Int("unacked", s.tracker.Len()))

	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Name returns the consumer name.
func (s *Session) Name() string {
	return s.name
}

// Unacked returns the number of delivered, unacknowledged messages.
func (s *Session) Unacked() int {
	return s.tracker.Len()
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func waitGroupWithContext(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func statusOf(err error) string {
	if err != nil {
		return observability.StatusError
	}

	return observability.StatusSuccess
}
