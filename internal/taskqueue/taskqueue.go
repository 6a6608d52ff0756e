// Package taskqueue holds the task model consumed by workers and the queues
// that deliver tasks: an in-process queue and a SQLite-backed one.
//
// Queues hand tasks out under a lease. A leased task is invisible to other
// consumers until it is acknowledged, returned with Nack, or its lease
// expires, in which case it is delivered again.
package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeStartFlow TaskType = "start-flow"
	TaskTypeSignal    TaskType = "signal"
)

var (
	// ErrTaskNotFound is returned by Ack, Nack and Renew for unknown tasks.
	ErrTaskNotFound = errors.New("task not found")

	// ErrLeaseLost is returned when owner no longer holds the task's lease.
	ErrLeaseLost = errors.New("task lease not held")
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	// FlowName is the registered flow to start (start-flow tasks).
	FlowName string

	// RunID is the run to create (start-flow) or to signal (signal).
	RunID string

	// SignalName is the signal to deliver (signal tasks).
	SignalName string

	// Input is the initial flow input (start-flow tasks).
	Input api.Input

	// Payload is passed to engine.Signal (signal tasks). Concrete types
	// must be registered with gob for persistent queues.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts previous deliveries that ended in Nack.
	Attempts int

	// LastError is the error recorded by the most recent Nack.
	LastError string
}

// Queue is a leasing task queue.
type Queue interface {
	// Enqueue adds a task to the queue. An empty ID is filled in.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue leases the next eligible task to owner for the lease duration,
	// blocking until one is available or the context is cancelled.
	Dequeue(ctx context.Context, owner string, lease time.Duration) (*Task, error)

	// Ack removes a leased task.
	Ack(ctx context.Context, id, owner string) error

	// Nack releases a leased task for redelivery no earlier than retryAt and
	// increments its attempt counter.
	Nack(ctx context.Context, id, owner string, retryAt time.Time, cause error) error

	// Renew extends owner's lease on a task.
	Renew(ctx context.Context, id, owner string, lease time.Duration) error

	// Len returns the approximate number of unacknowledged tasks.
	Len() int
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
