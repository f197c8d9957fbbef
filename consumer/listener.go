package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

const DefaultListenerWorkerPoolSize = 10

type ListenerConfig struct {
	Observability  *observability.Config
	WorkerPoolSize int32
}

// Listener pushes messages from a Receiver to a typed handler using a pool of workers.
// A message is acknowledged when the handler succeeds and negatively acknowledged
// when the adapter or the handler fails.
type Listener[T any] struct { // nolint:govet
	cfg         ListenerConfig
	receiver    Receiver
	adapter     MessageAdapter[T]
	middlewares []Middleware[T]
	obs         *observability.Config
	logger      *slog.Logger
}

func NewListener[T any](
	cfg ListenerConfig,
	receiver Receiver,
	adapter MessageAdapter[T],
	middlewares []Middleware[T],
	logger *slog.Logger,
) *Listener[T] {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	obs := cfg.Observability.OrDefault()
	tracer := observability.NewTracer(obs)
	metrics := observability.NewMetrics(obs)

	// observability goes first so it measures the whole chain
	mws := make([]Middleware[T], 0, len(middlewares)+1)
	mws = append(mws, func(next HandlerFunc[T]) HandlerFunc[T] {
		return HandlerFunc[T](observability.Middleware[T](tracer, metrics, receiver.Name())(next))
	})
	mws = append(mws, middlewares...)

	return &Listener[T]{
		cfg:         cfg,
		receiver:    receiver,
		adapter:     newObservableMessageAdapter(adapter, tracer, metrics, receiver.Name()),
		middlewares: mws,
		obs:         obs,
		logger:      logger,
	}
}

// Listen blocks until ctx is canceled or the receiver is closed.
func (l *Listener[T]) Listen(ctx context.Context, handler Handler[T]) error {
	if l.cfg.WorkerPoolSize < 1 {
		return &WrongConfigError{Err: fmt.Errorf("invalid worker pool size: %d", l.cfg.WorkerPoolSize)}
	}

	handlerFunc := newMessageHandlerFunc(handler)

	// apply middlewares
	for i := len(l.middlewares) - 1; i >= 0; i-- {
		handlerFunc = l.middlewares[i](handlerFunc)
	}

	g, gctx := errgroup.WithContext(ctx)

	for range l.cfg.WorkerPoolSize {
		g.Go(func() error {
			for {
				msg, err := l.receiver.Receive(gctx)
				if err != nil {
					switch {
					case errors.Is(err, ErrClosed), gctx.Err() != nil:
						return nil
					case errors.Is(err, ErrReceiveTimeout):
						continue
					default:
						return err
					}
				}

				l.process(gctx, msg, handlerFunc)
			}
		})
	}

	return g.Wait()
}

func (l *Listener[T]) process(ctx context.Context, msg Message, handler HandlerFunc[T]) {
	ctx = observability.ExtractTraceContext(ctx, msg.Properties, l.obs.Propagator())

	value, err := l.adapter.Transform(ctx, msg)
	if err != nil {
		l.logger.ErrorContext(ctx, "error transforming message", slog.Any("error", err), slog.String("id", msg.ID.String()))
		l.nack(ctx, msg)

		return
	}

	if err = handler.Handle(ctx, value); err != nil {
		// the message is redelivered after the nack delay
		l.nack(ctx, msg)

		return
	}

	if err = l.receiver.Acknowledge(ctx, msg.ID); err != nil {
		l.logger.ErrorContext(ctx, "error acknowledging message", slog.Any("error", err), slog.String("id", msg.ID.String()))
	}
}

func (l *Listener[T]) nack(ctx context.Context, msg Message) {
	if err := l.receiver.NegativeAcknowledge(ctx, msg.ID); err != nil {
		l.logger.ErrorContext(ctx, "error rejecting message", slog.Any("error", err), slog.String("id", msg.ID.String()))
	}
}
