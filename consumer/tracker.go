package consumer

import (
	"slices"
	"sync"
	"time"

	"github.com/google/btree"
)

// UnackedEntry is the tracking record of a delivered but unacknowledged message.
type UnackedEntry struct {
	DeliveredAt time.Time
	// Deadline is zero when no redelivery is scheduled for the entry.
	Deadline        time.Time
	ID              MessageID
	RedeliveryCount uint32
	// Pending is set while a redelivered copy waits in the receiver queue.
	// A pending entry is out of the deadline index until the copy is received.
	Pending bool
}

type deadlineKey struct {
	deadline time.Time
	id       MessageID
}

func lessDeadline(a, b deadlineKey) bool {
	if a.deadline.Equal(b.deadline) {
		return a.id < b.id
	}

	return a.deadline.Before(b.deadline)
}

// UnackedTracker tracks ack deadlines of delivered messages.
// Entries are kept in a map for lookups and in a btree ordered by deadline so that
// expiry scans only touch the expired prefix.
type UnackedTracker struct {
	entries map[MessageID]*UnackedEntry
	index   *btree.BTreeG[deadlineKey]
	timeout time.Duration

	mu sync.Mutex
}

// NewUnackedTracker creates a tracker. A zero timeout disables deadline enforcement:
// entries are still tracked but only expire when rescheduled explicitly.
func NewUnackedTracker(timeout time.Duration) *UnackedTracker {
	return &UnackedTracker{
		entries: make(map[MessageID]*UnackedEntry),
		index:   btree.NewG[deadlineKey](32, lessDeadline),
		timeout: timeout,
	}
}

// Add registers a delivery. Delivering an id that is already tracked (a redelivery
// reaching the application) refreshes its single entry instead of creating a second one
// and re-arms its deadline.
func (t *UnackedTracker) Add(id MessageID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		e = &UnackedEntry{ID: id}
		t.entries[id] = e
	}

	e.DeliveredAt = now
	e.Pending = false
	t.setDeadline(e, t.deadlineFrom(now))
}

// Acknowledge removes the entry. It returns false if there was nothing to remove,
// which is how duplicate acks are tolerated.
func (t *UnackedTracker) Acknowledge(id MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remove(id)
}

// AcknowledgeUpTo removes every entry with an id lower than or equal to id and
// returns the removed ids in ascending order.
func (t *UnackedTracker) AcknowledgeUpTo(id MessageID) []MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []MessageID

	for entryID := range t.entries {
		if entryID <= id {
			removed = append(removed, entryID)
		}
	}

	slices.Sort(removed)

	for _, entryID := range removed {
		t.remove(entryID)
	}

	return removed
}

// Expired returns the ids whose deadline is at or before now, ordered by deadline.
func (t *UnackedTracker) Expired(now time.Time) []MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []MessageID

	t.index.Ascend(func(k deadlineKey) bool {
		if k.deadline.After(now) {
			return false
		}

		ids = append(ids, k.id)

		return true
	})

	return ids
}

// Redeliver records a redelivery of id and resets its deadline to now + timeout.
// The entry stays pending, and so never expires again, until the redelivered copy
// is received and Add re-arms it. It returns false when the entry is gone, e.g.
// acked concurrently with the scan, or when a copy is already pending.
func (t *UnackedTracker) Redeliver(id MessageID, now time.Time) (UnackedEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || e.Pending {
		return UnackedEntry{}, false
	}

	e.RedeliveryCount++
	e.Pending = true
	t.setDeadline(e, t.deadlineFrom(now))

	return *e, true
}

// Reschedule sets an explicit deadline, used for negative acknowledgments.
// A pending entry keeps the new deadline but is only indexed once its copy is received.
func (t *UnackedTracker) Reschedule(id MessageID, deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return false
	}

	t.setDeadline(e, deadline)

	return true
}

// RescheduleAll sets deadline on every tracked entry and returns how many were touched.
// Pending entries are rescheduled like in Reschedule.
func (t *UnackedTracker) RescheduleAll(deadline time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		t.setDeadline(e, deadline)
	}

	return len(t.entries)
}

// Get returns a copy of the entry for id.
func (t *UnackedTracker) Get(id MessageID) (UnackedEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return UnackedEntry{}, false
	}

	return *e, true
}

// Len returns the number of unacknowledged messages.
func (t *UnackedTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Timeout returns the configured ack timeout.
func (t *UnackedTracker) Timeout() time.Duration {
	return t.timeout
}

func (t *UnackedTracker) deadlineFrom(now time.Time) time.Time {
	if t.timeout <= 0 {
		return time.Time{}
	}

	return now.Add(t.timeout)
}

// setDeadline must be called with mu held.
func (t *UnackedTracker) setDeadline(e *UnackedEntry, deadline time.Time) {
	t.unindex(e)

	e.Deadline = deadline

	if !deadline.IsZero() && !e.Pending {
		t.index.ReplaceOrInsert(deadlineKey{deadline: deadline, id: e.ID})
	}
}

// unindex must be called with mu held. Deleting a key that is not indexed is a no-op.
func (t *UnackedTracker) unindex(e *UnackedEntry) {
	if !e.Deadline.IsZero() {
		t.index.Delete(deadlineKey{deadline: e.Deadline, id: e.ID})
	}
}

// remove must be called with mu held.
func (t *UnackedTracker) remove(id MessageID) bool {
	e, ok := t.entries[id]
	if !ok {
		return false
	}

	t.unindex(e)
	delete(t.entries, id)

	return true
}
