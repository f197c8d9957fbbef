package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

// fakeTransport is an in-memory broker. Tests publish batches and inspect what was acked.
type fakeTransport struct {
	batches chan []Message

	acked       []Message
	redelivered []Message
	stats       TransportStats
	connectErr  error
	ackErr      error
	// statsGate, when set before subscribing, blocks Stats until it is closed.
	statsGate chan struct{}

	seq         MessageID
	ackFailures int
	statsCalls  int
	closed      bool

	mu sync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		batches: make(chan []Message, 128),
		stats:   TransportStats{Address: "memory://test", Backlog: 0},
	}
}

// publish makes one batch available to Receive and returns it.
func (f *fakeTransport) publish(payloads ...string) []Message {
	f.mu.Lock()

	batch := make([]Message, 0, len(payloads))
	for _, p := range payloads {
		f.seq++
		batch = append(batch, NewMessage(f.seq, []byte(p), WithHandle("h-"+f.seq.String())))
	}

	f.mu.Unlock()

	f.batches <- batch

	return batch
}

func (f *fakeTransport) Connect(_ context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) Receive(ctx context.Context) ([]Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case batch := <-f.batches:
		return batch, nil
	}
}

func (f *fakeTransport) Ack(ctx context.Context, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ackFailures != 0 {
		f.ackFailures--

		return f.ackErr
	}

	f.acked = append(f.acked, msgs...)

	return nil
}

func (f *fakeTransport) Redeliver(_ context.Context, msgs []Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.redelivered = append(f.redelivered, msgs...)

	return nil
}

func (f *fakeTransport) Stats(_ context.Context) (TransportStats, error) {
	f.mu.Lock()
	f.statsCalls++
	stats, gate := f.stats, f.statsGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	return stats, nil
}

func (f *fakeTransport) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// failAcks makes the next n Ack calls fail with err. A negative n fails forever.
func (f *fakeTransport) failAcks(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ackFailures = n
	f.ackErr = err
}

func (f *fakeTransport) ackedIDs() []MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]MessageID, 0, len(f.acked))
	for _, m := range f.acked {
		ids = append(ids, m.ID)
	}

	return ids
}

func (f *fakeTransport) redeliveredIDs() []MessageID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]MessageID, 0, len(f.redelivered))
	for _, m := range f.redelivered {
		ids = append(ids, m.ID)
	}

	return ids
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *fakeTransport) getStatsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.statsCalls
}

// mockTransport is a testify mock of Transport for tests that assert on exact calls.
type mockTransport struct {
	mock.Mock
}

func newMockTransport(t *testing.T) *mockTransport {
	m := &mockTransport{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *mockTransport) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) Receive(ctx context.Context) ([]Message, error) {
	args := m.Called(ctx)

	msgs, _ := args.Get(0).([]Message)

	return msgs, args.Error(1)
}

func (m *mockTransport) Ack(ctx context.Context, msgs []Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *mockTransport) Redeliver(ctx context.Context, msgs []Message) error {
	return m.Called(ctx, msgs).Error(0)
}

func (m *mockTransport) Stats(ctx context.Context) (TransportStats, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).(TransportStats)

	return stats, args.Error(1)
}

func (m *mockTransport) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// newTestSession subscribes to transport with a mock clock and synchronous acks.
func newTestSession(t *testing.T, transport Transport, opts ...Option) (*Session, *clock.Mock) {
	t.Helper()

	cfg, err := NewConfig(append([]Option{
		WithConsumerName("test-consumer"),
		WithAckGroupTime(0),
		WithGracefulShutdownTimeout(5 * time.Second),
	}, opts...)...)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(t0)

	s, err := Subscribe(context.Background(), *cfg, transport,
		WithClock(clk),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s, clk
}

func ids(msgs []Message) []MessageID {
	out := make([]MessageID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}

	return out
}
