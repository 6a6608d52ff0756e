package cascade

import (
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with Node.WithRetry.
type RetryBuilder struct {
	policy api.RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts and no delay
// between attempts.
//
// maxAttempts <= 0 is treated as 1 (no retries). Use RetryForever for an
// unlimited policy.
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{policy: api.RetryPolicy{MaximumAttempts: maxAttempts}}
}

// RetryForever retries until the activity succeeds, fails non-retryably or
// the context ends.
func RetryForever() RetryBuilder {
	return RetryBuilder{policy: api.RetryPolicy{MaximumAttempts: 0}}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.InitialInterval = initial
	p.MaximumInterval = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.BackoffCoefficient = multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff waits delay between every attempt.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialInterval = delay
	p.MaximumInterval = 0
	p.BackoffCoefficient = 1.0
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.InitialInterval = 0
	p.MaximumInterval = 0
	p.BackoffCoefficient = 0
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() api.RetryPolicy {
	return r.policy
}
