// Package ratelimit provides the token-bucket admission control used to gate
// node execution.
//
// A Limiter admits bursts up to its capacity and refills continuously at
// capacity/window. Acquire blocks until a token is available; it never
// rejects. Limiters that must be shared between nodes (or between flows) are
// registered by ID in a Registry that is handed to the engine explicitly.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidLimiter is returned when a limiter is configured with a
// non-positive capacity or window.
var ErrInvalidLimiter = errors.New("ratelimit: capacity and window must be positive")

// Acquirer is the minimal contract the engine needs from a limiter.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Limiter is a token bucket. It is safe for concurrent use.
type Limiter struct {
	id       string
	capacity int
	window   time.Duration
	lim      *rate.Limiter
	now      func() time.Time
}

var _ Acquirer = (*Limiter)(nil)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithID names the limiter. Registry sets this automatically.
func WithID(id string) Option {
	return func(l *Limiter) {
		l.id = id
	}
}

// New creates a limiter that admits up to capacity acquisitions per window.
// The bucket starts full.
func New(capacity int, window time.Duration, opts ...Option) (*Limiter, error) {
	if capacity <= 0 || window <= 0 {
		return nil, fmt.Errorf("%w (capacity=%d, window=%s)", ErrInvalidLimiter, capacity, window)
	}
	l := &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	perSecond := float64(capacity) / window.Seconds()
	l.lim = rate.NewLimiter(rate.Limit(perSecond), capacity)
	// Anchor the bucket at the configured clock so it starts full there.
	l.lim.SetLimitAt(l.now(), rate.Limit(perSecond))
	return l, nil
}

// MustNew is like New but panics on invalid configuration.
func MustNew(capacity int, window time.Duration, opts ...Option) *Limiter {
	l, err := New(capacity, window, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// ID returns the registry identity of the limiter, or "" for per-node limiters.
func (l *Limiter) ID() string { return l.id }

// Capacity returns the bucket size.
func (l *Limiter) Capacity() int { return l.capacity }

// Window returns the period over which Capacity tokens are refilled.
func (l *Limiter) Window() time.Duration { return l.window }

// Tokens reports the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.lim.TokensAt(l.now())
}

// TryAcquire takes a token if one is immediately available.
func (l *Limiter) TryAcquire() bool {
	return l.lim.AllowN(l.now(), 1)
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := l.lim.ReserveN(l.now(), 1)
	if !res.OK() {
		// Only possible if burst < 1, which New rules out.
		return ErrInvalidLimiter
	}

	delay := res.DelayFrom(l.now())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.CancelAt(l.now())
		return ctx.Err()
	}
}
