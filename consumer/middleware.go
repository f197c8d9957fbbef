package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// NewIgnoreErrorsMiddleware swallows handler errors, so the listener acknowledges
// the message instead of scheduling a redelivery. Errors are logged when l is set.
func NewIgnoreErrorsMiddleware[T any](l *slog.Logger) Middleware[T] {
	return func(next HandlerFunc[T]) HandlerFunc[T] {
		return func(ctx context.Context, msg T) error {
			err := next.Handle(ctx, msg)
			if err != nil && l != nil {
				l.ErrorContext(ctx, "failed to process message", slog.Any("error", err))
			}

			return nil
		}
	}
}

// NewPanicRecoverMiddleware turns a handler panic into an error, which leads to a negative ack.
func NewPanicRecoverMiddleware[T any]() Middleware[T] {
	return func(next HandlerFunc[T]) HandlerFunc[T] {
		return func(ctx context.Context, msg T) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("recovered from panic: %v", r)
				}
			}()

			return next.Handle(ctx, msg)
		}
	}
}

// NewTimeLimitMiddleware fails the handler once timeout elapses.
// Keep timeout below the unacked timeout, otherwise the message is redelivered
// while the first attempt is still running.
func NewTimeLimitMiddleware[T any](timeout time.Duration) Middleware[T] {
	return func(next HandlerFunc[T]) HandlerFunc[T] {
		return func(ctx context.Context, msg T) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)

			go func() {
				done <- next(ctx, msg)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// NewLoggingMiddleware logs every handled message at debug level and failures at warn.
func NewLoggingMiddleware[T any](l *slog.Logger) Middleware[T] {
	return func(next HandlerFunc[T]) HandlerFunc[T] {
		return func(ctx context.Context, msg T) error {
			start := time.Now()

			err := next.Handle(ctx, msg)
			if err != nil {
				l.WarnContext(ctx, "handler failed", slog.Any("error", err), slog.Duration("took", time.Since(start)))

				return err
			}

			l.DebugContext(ctx, "handler succeeded", slog.Duration("took", time.Since(start)))

			return nil
		}
	}
}
