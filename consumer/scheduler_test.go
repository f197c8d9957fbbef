package consumer

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

type schedulerFixture struct {
	scheduler *redeliveryScheduler
	tracker   *UnackedTracker
	store     *messageStore
	queue     *receiverQueue
	counters  *counters
	clock     *clock.Mock
}

func newSchedulerFixture(transport Transport, timeout, tick time.Duration) *schedulerFixture {
	f := &schedulerFixture{
		tracker:  NewUnackedTracker(timeout),
		store:    newMessageStore(),
		queue:    newReceiverQueue(10),
		counters: &counters{},
		clock:    clock.NewMock(),
	}
	f.clock.Set(t0)

	f.scheduler = newRedeliveryScheduler(
		schedulerConfig{Tick: tick, ConsumerName: "test-consumer"},
		f.tracker, f.store, f.queue, transport, f.counters, f.clock,
		observability.NewMetrics(observability.NewConfig()),
		slog.New(slog.DiscardHandler),
	)

	return f
}

// deliver simulates a message handed to the application at now.
func (f *schedulerFixture) deliver(id MessageID, now time.Time) {
	f.store.Put(NewMessage(id, []byte("payload"), WithHandle("h")))
	f.tracker.Add(id, now)
}

func TestRedeliveryScheduler_Scan(t *testing.T) {
	t.Parallel()

	var (
		ft  = newFakeTransport()
		f   = newSchedulerFixture(ft, 100*time.Millisecond, 100*time.Millisecond)
		ctx = context.Background()
	)

	f.deliver(1, t0)
	f.deliver(2, t0.Add(60*time.Millisecond))

	assert.Equal(t, 0, f.scheduler.scan(ctx, t0.Add(99*time.Millisecond)))
	assert.Equal(t, 1, f.scheduler.scan(ctx, t0.Add(150*time.Millisecond)))

	entry, ok := f.tracker.Get(1)
	require.True(t, ok)
	assert.Equal(t, t0.Add(250*time.Millisecond), entry.Deadline)

	msg, err := f.queue.pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, MessageID(1), msg.ID)
	assert.Equal(t, uint32(1), msg.RedeliveryCount)
	assert.True(t, msg.IsRedelivery())

	assert.Equal(t, []MessageID{1}, ft.redeliveredIDs())
	assert.Equal(t, int64(1), f.counters.redelivered.Load())

	assert.Equal(t, 0, f.scheduler.scan(ctx, t0.Add(150*time.Millisecond)))
	assert.Equal(t, 1, f.scheduler.scan(ctx, t0.Add(200*time.Millisecond)))
	assert.Equal(t, []MessageID{1, 2}, ft.redeliveredIDs())
}

func TestRedeliveryScheduler_SkipsAckedMessages(t *testing.T) {
	t.Parallel()

	var (
		ft  = newFakeTransport()
		f   = newSchedulerFixture(ft, 100*time.Millisecond, 100*time.Millisecond)
		ctx = context.Background()
	)

	f.deliver(1, t0)
	f.deliver(2, t0)

	f.tracker.Acknowledge(1)
	require.NoError(t, f.store.Remove(1))

	// acked after the deadline passed but before the scan looked it up
	require.NoError(t, f.store.Remove(2))

	assert.Equal(t, 0, f.scheduler.scan(ctx, t0.Add(time.Second)))
	assert.Equal(t, 0, f.queue.len())
	assert.Equal(t, 0, f.tracker.Len())
	assert.Empty(t, ft.redeliveredIDs())
}

func TestRedeliveryScheduler_NotifyFailureKeepsLocalRedelivery(t *testing.T) {
	t.Parallel()

	var (
		mt  = newMockTransport(t)
		f   = newSchedulerFixture(mt, 100*time.Millisecond, time.Millisecond)
		ctx = context.Background()
	)

	mt.On("Redeliver", mock.Anything, mock.MatchedBy(func(msgs []Message) bool {
		return len(msgs) == 1 && msgs[0].ID == 1
	})).Return(errBroker)

	f.deliver(1, t0)

	assert.Equal(t, 1, f.scheduler.scan(ctx, t0.Add(time.Second)))
	assert.Equal(t, 1, f.queue.len())
}

func TestRedeliveryScheduler_Run(t *testing.T) {
	t.Parallel()

	var (
		ft          = newFakeTransport()
		f           = newSchedulerFixture(ft, 100*time.Millisecond, 100*time.Millisecond)
		ctx, cancel = context.WithCancel(context.Background())
		done        = make(chan struct{})
	)

	f.deliver(1, t0)

	go func() {
		defer close(done)

		f.scheduler.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		f.clock.Add(100 * time.Millisecond)

		return f.queue.len() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, []MessageID{1}, ft.redeliveredIDs())
}
