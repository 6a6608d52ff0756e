package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	q.pollInterval = 5 * time.Millisecond
	return q
}

func queueFactories() map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"memory": func(t *testing.T) Queue { return NewInMemoryQueue() },
		"sqlite": func(t *testing.T) Queue { return newTestSQLiteQueue(t) },
	}
}

func forEachQueue(t *testing.T, fn func(t *testing.T, q Queue)) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) { fn(t, factory(t)) })
	}
}

const lease = 200 * time.Millisecond

func TestQueue_EnqueueDequeueFIFO(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		for _, name := range []string{"f1", "f2", "f3"} {
			if err := q.Enqueue(ctx, Task{ID: name, Type: TaskTypeStartFlow, FlowName: name}); err != nil {
				t.Fatalf("Enqueue %s failed: %v", name, err)
			}
			// distinct enqueue timestamps keep NotBefore ordering stable
			time.Sleep(time.Millisecond)
		}
		if q.Len() != 3 {
			t.Fatalf("expected Len 3, got %d", q.Len())
		}

		for _, want := range []string{"f1", "f2", "f3"} {
			got, err := q.Dequeue(ctx, "w1", lease)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			if got.FlowName != want {
				t.Fatalf("expected %s, got %s", want, got.FlowName)
			}
			if err := q.Ack(ctx, got.ID, "w1"); err != nil {
				t.Fatalf("Ack %s: %v", got.ID, err)
			}
		}

		if q.Len() != 0 {
			t.Fatalf("expected Len 0 after acks, got %d", q.Len())
		}
	})
}

func TestQueue_FillsIDAndTimestamps(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		before := time.Now()
		if err := q.Enqueue(ctx, Task{Type: TaskTypeSignal, RunID: "r", SignalName: "go"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		got, err := q.Dequeue(ctx, "w1", lease)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if got.EnqueuedAt.Before(before) || got.NotBefore.IsZero() {
			t.Fatalf("expected timestamps to be filled, got %+v", got)
		}
	})
}

func TestQueue_DequeueBlocksUntilTaskArrives(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		resultCh := make(chan *Task, 1)
		errCh := make(chan error, 1)
		go func() {
			tk, err := q.Dequeue(ctx, "w1", lease)
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- tk
		}()

		time.Sleep(30 * time.Millisecond)
		if err := q.Enqueue(context.Background(), Task{Type: TaskTypeStartFlow, FlowName: "delayed"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		select {
		case err := <-errCh:
			t.Fatalf("Dequeue returned error: %v", err)
		case tk := <-resultCh:
			if tk.FlowName != "delayed" {
				t.Fatalf("unexpected task from Dequeue: %+v", tk)
			}
		case <-ctx.Done():
			t.Fatalf("timeout waiting for Dequeue to return")
		}
	})
}

func TestQueue_DequeueHonorsContextCancellation(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx, "w1", lease)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestQueue_NotBeforeIsHonored(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		delay := 60 * time.Millisecond

		if err := q.Enqueue(ctx, Task{Type: TaskTypeStartFlow, FlowName: "delayed", NotBefore: time.Now().Add(delay)}); err != nil {
			t.Fatalf("Enqueue delayed failed: %v", err)
		}
		if err := q.Enqueue(ctx, Task{Type: TaskTypeStartFlow, FlowName: "immediate"}); err != nil {
			t.Fatalf("Enqueue immediate failed: %v", err)
		}

		first, err := q.Dequeue(ctx, "w1", lease)
		if err != nil {
			t.Fatalf("Dequeue first failed: %v", err)
		}
		if first.FlowName != "immediate" {
			t.Fatalf("expected immediate task first, got %+v", first)
		}

		start := time.Now()
		second, err := q.Dequeue(ctx, "w1", lease)
		elapsed := time.Since(start)
		if err != nil {
			t.Fatalf("Dequeue second failed: %v", err)
		}
		if second.FlowName != "delayed" {
			t.Fatalf("expected delayed task second, got %+v", second)
		}
		if elapsed < delay/2 {
			t.Fatalf("expected elapsed >= %v/2, got %v", delay, elapsed)
		}
	})
}

func TestQueue_LeaseExpiryRedelivers(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		if err := q.Enqueue(ctx, Task{Type: TaskTypeStartFlow, FlowName: "f"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		got1, err := q.Dequeue(ctx, "w1", 30*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue1: %v", err)
		}

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := q.Dequeue(short, "w2", lease); err == nil {
			t.Fatalf("leased task must not be visible to other consumers")
		}

		time.Sleep(40 * time.Millisecond)
		got2, err := q.Dequeue(ctx, "w2", lease)
		if err != nil {
			t.Fatalf("Dequeue2: %v", err)
		}
		if got1.ID != got2.ID {
			t.Fatalf("expected same task ID, got %q vs %q", got1.ID, got2.ID)
		}
		if err := q.Ack(ctx, got1.ID, "w1"); !errors.Is(err, ErrLeaseLost) {
			t.Fatalf("expected ErrLeaseLost for stale owner, got %v", err)
		}
		if err := q.Ack(ctx, got2.ID, "w2"); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	})
}

func TestQueue_RenewKeepsLease(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		if err := q.Enqueue(ctx, Task{Type: TaskTypeStartFlow, FlowName: "f"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		got, err := q.Dequeue(ctx, "w1", 30*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}

		for i := 0; i < 3; i++ {
			time.Sleep(15 * time.Millisecond)
			if err := q.Renew(ctx, got.ID, "w1", 30*time.Millisecond); err != nil {
				t.Fatalf("Renew %d: %v", i, err)
			}
		}

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := q.Dequeue(short, "w2", lease); err == nil {
			t.Fatalf("renewed task must stay invisible")
		}
		if err := q.Ack(ctx, got.ID, "w1"); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	})
}

func TestQueue_NackReschedules(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		if err := q.Enqueue(ctx, Task{Type: TaskTypeSignal, RunID: "r", SignalName: "s"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		got, err := q.Dequeue(ctx, "w1", lease)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}

		retryAt := time.Now().Add(40 * time.Millisecond)
		if err := q.Nack(ctx, got.ID, "w1", retryAt, errors.New("run not found")); err != nil {
			t.Fatalf("Nack: %v", err)
		}

		again, err := q.Dequeue(ctx, "w1", lease)
		if err != nil {
			t.Fatalf("Dequeue again: %v", err)
		}
		if time.Now().Before(retryAt) {
			t.Fatalf("task redelivered before retryAt")
		}
		if again.Attempts != 1 || again.LastError != "run not found" {
			t.Fatalf("expected attempt bookkeeping, got %+v", again)
		}
	})
}

func TestQueue_UnknownTask(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		if err := q.Ack(ctx, "missing", "w1"); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("Ack: expected ErrTaskNotFound, got %v", err)
		}
		if err := q.Renew(ctx, "missing", "w1", lease); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("Renew: expected ErrTaskNotFound, got %v", err)
		}
		if err := q.Nack(ctx, "missing", "w1", time.Now(), nil); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("Nack: expected ErrTaskNotFound, got %v", err)
		}
	})
}

func TestQueue_ConcurrentDequeue_NoDuplicates(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()

		if err := q.Enqueue(ctx, Task{Type: TaskTypeStartFlow, FlowName: "f"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		results := make(chan *Task, 2)
		deq := func(owner string) {
			got, _ := q.Dequeue(ctx, owner, time.Second)
			results <- got
		}
		go deq("w1")
		go deq("w2")

		count := 0
		for i := 0; i < 2; i++ {
			if tsk := <-results; tsk != nil {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected exactly one task dequeued, got %d", count)
		}
	})
}
