package consumer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a message id is unknown to the session.
	ErrNotFound = errors.New("message not found")
	// ErrClosed is returned by every operation once the session started closing.
	ErrClosed = errors.New("consumer session is closed")
	// ErrNotReady is returned when the session is still connecting.
	ErrNotReady = errors.New("consumer session is not ready")
	// ErrReceiveTimeout is returned when no message arrived before the receive deadline.
	ErrReceiveTimeout = errors.New("receive timed out")
	// ErrCumulativeAckNotAllowed is returned for cumulative acks on shared subscriptions.
	ErrCumulativeAckNotAllowed = errors.New("cumulative acknowledgment is not allowed on shared subscriptions")
)

type WrongConfigError struct {
	Err error
}

func (e *WrongConfigError) Error() string {
	return fmt.Sprintf("wrong config: %s", e.Err)
}

func (e *WrongConfigError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a receive that gave up waiting.
// errors.Is(err, ErrReceiveTimeout) holds for every TimeoutError.
type TimeoutError struct {
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrReceiveTimeout, e.Waited)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrReceiveTimeout
}

// TransportError wraps a failed call to the broker transport.
type TransportError struct {
	Err error
	Op  string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
