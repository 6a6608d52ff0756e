package api

import (
	"math"
	"time"
)

// RetryPolicy controls how an activity is retried when it returns an error.
//
// MaximumAttempts includes the first attempt; 0 means unlimited. Delays grow
// from InitialInterval by BackoffCoefficient per attempt and are capped at
// MaximumInterval (no cap if zero).
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// DefaultRetryPolicy is applied to nodes that do not set their own policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    60 * time.Second,
		MaximumAttempts:    3,
	}
}

// NoRetry runs an activity exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaximumAttempts: 1}
}

// Unlimited reports whether the policy retries forever.
func (p RetryPolicy) Unlimited() bool {
	return p.MaximumAttempts <= 0
}

// Delay returns the wait before retry number attempt (1-based: Delay(1) is
// the wait after the first failed attempt).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialInterval <= 0 {
		return 0
	}

	coeff := p.BackoffCoefficient
	if coeff <= 0 {
		coeff = 2.0
	}

	d := float64(p.InitialInterval) * math.Pow(coeff, float64(attempt-1))
	if p.MaximumInterval > 0 && d > float64(p.MaximumInterval) {
		return p.MaximumInterval
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
