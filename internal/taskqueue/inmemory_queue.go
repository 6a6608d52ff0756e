package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	task       Task
	seq        uint64
	owner      string
	leaseUntil time.Time
}

func (e *memEntry) eligibleAt() time.Time {
	if e.owner != "" && e.leaseUntil.After(e.task.NotBefore) {
		return e.leaseUntil
	}
	return e.task.NotBefore
}

// InMemoryQueue is a Queue held in process memory. It is safe for
// concurrent use.
type InMemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	seq     uint64
	changed chan struct{}
	now     func() time.Time
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		entries: make(map[string]*memEntry),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// notifyLocked wakes every blocked Dequeue. Callers hold q.mu.
func (q *InMemoryQueue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	q.seq++
	q.entries[t.ID] = &memEntry{task: t, seq: q.seq}
	q.notifyLocked()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context, owner string, lease time.Duration) (*Task, error) {
	for {
		q.mu.Lock()
		now := q.now()

		var (
			best *memEntry
			next time.Time
		)
		for _, e := range q.entries {
			at := e.eligibleAt()
			if at.After(now) {
				if next.IsZero() || at.Before(next) {
					next = at
				}
				continue
			}
			if best == nil || e.task.NotBefore.Before(best.task.NotBefore) ||
				(e.task.NotBefore.Equal(best.task.NotBefore) && e.seq < best.seq) {
				best = e
			}
		}

		if best != nil {
			best.owner = owner
			best.leaseUntil = now.Add(lease)
			t := best.task
			q.mu.Unlock()
			return &t, nil
		}
		changed := q.changed
		q.mu.Unlock()

		if err := waitFor(ctx, changed, next, now); err != nil {
			return nil, err
		}
	}
}

// waitFor blocks until changed is closed, next is reached or ctx is done.
// A zero next waits without a deadline.
func waitFor(ctx context.Context, changed <-chan struct{}, next, now time.Time) error {
	var wake <-chan time.Time
	if !next.IsZero() {
		timer := time.NewTimer(next.Sub(now))
		defer timer.Stop()
		wake = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-wake:
	}
	return nil
}

// leased returns the entry for id if owner holds its lease. Callers hold q.mu.
func (q *InMemoryQueue) leased(id, owner string) (*memEntry, error) {
	e, ok := q.entries[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if e.owner != owner || !e.leaseUntil.After(q.now()) {
		return nil, ErrLeaseLost
	}
	return e, nil
}

func (q *InMemoryQueue) Ack(ctx context.Context, id, owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.leased(id, owner); err != nil {
		return err
	}
	delete(q.entries, id)
	return nil
}

func (q *InMemoryQueue) Nack(ctx context.Context, id, owner string, retryAt time.Time, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.leased(id, owner)
	if err != nil {
		return err
	}
	e.owner = ""
	e.leaseUntil = time.Time{}
	e.task.Attempts++
	e.task.LastError = errString(cause)
	e.task.NotBefore = retryAt
	q.notifyLocked()
	return nil
}

func (q *InMemoryQueue) Renew(ctx context.Context, id, owner string, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.leased(id, owner)
	if err != nil {
		return err
	}
	e.leaseUntil = q.now().Add(lease)
	return nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
