package consumer

import (
	"context"
)

// Handler is a generic interface for message handlers.
// The type parameter T specifies the type of message the handler accepts.
type Handler[T any] interface {
	Handle(ctx context.Context, msg T) error
}

type HandlerFunc[T any] func(ctx context.Context, msg T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

type Middleware[T any] func(next HandlerFunc[T]) HandlerFunc[T]

// MessageAdapter turns a delivered Message into the type handlers work with.
type MessageAdapter[T any] interface {
	Transform(ctx context.Context, msg Message) (T, error)
}

type MessageAdapterFunc[T any] func(ctx context.Context, msg Message) (T, error)

func (f MessageAdapterFunc[T]) Transform(ctx context.Context, msg Message) (T, error) {
	return f(ctx, msg)
}

// Receiver is the pull side of a consumer session, as used by Listener.
type Receiver interface {
	Receive(ctx context.Context) (Message, error)
	Acknowledge(ctx context.Context, id MessageID) error
	NegativeAcknowledge(ctx context.Context, id MessageID) error
	Name() string
}

var _ Receiver = (*Session)(nil)

func newMessageHandlerFunc[T any](handler Handler[T]) HandlerFunc[T] {
	return func(ctx context.Context, message T) error {
		return handler.Handle(ctx, message)
	}
}
