package consumer

import (
	"context"
	"sync"
)

// receiverQueue buffers messages between the transport pump and Receive.
// Pushes from the pump are bounded by capacity; redeliveries go to the front and
// ignore the bound so an expiry scan never blocks on a full queue.
type receiverQueue struct {
	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}

	items    []Message
	capacity int
	closed   bool

	mu sync.Mutex
}

func newReceiverQueue(capacity int) *receiverQueue {
	return &receiverQueue{
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		capacity: capacity,
	}
}

// push appends msg, waiting for room while the queue is full.
func (q *receiverQueue) push(ctx context.Context, msg Message) error {
	for {
		q.mu.Lock()

		if q.closed {
			q.mu.Unlock()

			return ErrClosed
		}

		if len(q.items) < q.capacity {
			q.items = append(q.items, msg)
			q.mu.Unlock()
			signal(q.notEmpty)

			return nil
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrClosed
		case <-q.notFull:
		}
	}
}

// pushFront puts msgs at the head of the queue in the given order.
func (q *receiverQueue) pushFront(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	items := make([]Message, 0, len(msgs)+len(q.items))
	items = append(items, msgs...)
	q.items = append(items, q.items...)
	q.mu.Unlock()

	signal(q.notEmpty)
}

// pop removes the head of the queue, waiting until one is available.
func (q *receiverQueue) pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()

		if q.closed {
			q.mu.Unlock()

			return Message{}, ErrClosed
		}

		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()

			signal(q.notFull)

			if remaining > 0 {
				signal(q.notEmpty)
			}

			return msg, nil
		}

		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.done:
			return Message{}, ErrClosed
		case <-q.notEmpty:
		}
	}
}

func (q *receiverQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// close wakes every waiter. Queued messages are dropped, they stay unacked upstream.
func (q *receiverQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.items = nil
	close(q.done)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
