package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

const (
	pollBaseDelay = 100 * time.Millisecond
	pollMaxDelay  = 2 * time.Second
)

type pollerConfig struct {
	ConsumerName         string
	ErrorNumberThreshold int32
}

// transportPoller moves messages from the transport into the store and the receiver queue.
type transportPoller struct {
	cfg       pollerConfig
	transport Transport
	store     *messageStore
	queue     *receiverQueue
	clock     clock.Clock
	metrics   observability.Metrics
	logger    *slog.Logger
}

func newTransportPoller(
	cfg pollerConfig,
	transport Transport,
	store *messageStore,
	queue *receiverQueue,
	clk clock.Clock,
	metrics observability.Metrics,
	logger *slog.Logger,
) *transportPoller {
	return &transportPoller{
		cfg:       cfg,
		transport: transport,
		store:     store,
		queue:     queue,
		clock:     clk,
		metrics:   metrics,
		logger:    logger,
	}
}

// Poll runs until ctx is canceled, the queue is closed or the error threshold is reached.
func (p *transportPoller) Poll(ctx context.Context) error {
	var (
		retryCount int32
		bo         = p.newBackoff()
	)

	for {
		if ctx.Err() != nil {
			p.logger.DebugContext(ctx, "poller stopped. Context is canceled.")
			return nil
		}

		msgs, err := p.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				p.logger.DebugContext(ctx, "poller stopped. Context is canceled.")
				return nil
			}

			p.logger.ErrorContext(ctx, "failed to receive messages from transport",
				slog.Any("error", err),
				slog.String("consumer", p.cfg.ConsumerName),
			)

			retryCount++
			// if the error threshold is enabled
			// and the number of retries is greater than the threshold, stop the poller
			if p.cfg.ErrorNumberThreshold > 0 && retryCount >= p.cfg.ErrorNumberThreshold {
				return &TransportError{Op: "receive", Err: errors.New("error threshold reached, stopping poller")}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-p.clock.After(bo.NextBackOff()):
			}

			continue
		}

		retryCount = 0
		bo.Reset()

		p.metrics.Histogram(ctx, observability.MetricMessagesReceived, float64(len(msgs)),
			observability.WithConsumerMetric(p.cfg.ConsumerName),
		)

		for _, msg := range msgs {
			// the transport handed over a message this session still holds:
			// it is already queued or with the application
			if !p.store.Put(msg) {
				p.logger.DebugContext(ctx, "message received again, refreshed stored copy",
					slog.String("id", msg.ID.String()),
				)

				continue
			}

			if err = p.queue.push(ctx, msg); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return nil
				}

				return err
			}
		}
	}
}

func (p *transportPoller) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pollBaseDelay
	bo.MaxInterval = pollMaxDelay
	bo.Multiplier = 2
	bo.Reset()

	return bo
}
