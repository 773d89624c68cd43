package statebox

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/statebox/pkg/config"
)

// RetryBuilder assembles the RetryPolicy applied to storage writes. Reads
// are never retried: a failed load falls back to the initial value.
//
//	statebox.Retry(4).
//	    WithExponentialBackoff(5*time.Millisecond, 2, 100*time.Millisecond).
//	    Except(ErrQuotaExceeded).
//	    Policy()
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a policy making at most attempts writes per commit.
// attempts <= 0 is treated as 1, a single write with no retry.
func Retry(attempts int) RetryBuilder {
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: max(attempts, 1)}}
}

// RetryFromConfig converts the retry section of a YAML document. A zero
// attempt count yields the zero policy, which writes once.
func RetryFromConfig(rc config.RetryConfig) RetryPolicy {
	if rc.Attempts <= 0 {
		return RetryPolicy{}
	}
	return Retry(rc.Attempts).
		WithExponentialBackoff(rc.Backoff, rc.Multiplier, rc.MaxBackoff).
		Policy()
}

// WithExponentialBackoff waits initial before the first retry and grows the
// wait by multiplier (2 when <= 0), capped at maxDelay when it is positive.
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, maxDelay time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2
	}
	r.policy.InitialBackoff = initial
	r.policy.BackoffMultiplier = multiplier
	r.policy.MaxBackoff = maxDelay
	return r
}

// WithConstantBackoff waits delay between every write attempt.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	r.policy.InitialBackoff = delay
	r.policy.BackoffMultiplier = 1
	r.policy.MaxBackoff = 0
	return r
}

// Immediate retries without waiting. Useful for local backends where a
// failure is a lock conflict rather than an outage.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.policy.InitialBackoff = 0
	r.policy.BackoffMultiplier = 0
	r.policy.MaxBackoff = 0
	return r
}

// If retries only errors for which pred returns true. It replaces any
// earlier If or Except.
func (r RetryBuilder) If(pred func(error) bool) RetryBuilder {
	r.policy.Retryable = pred
	return r
}

// Except gives up at once on errors matching any of permanent through
// errors.Is, e.g. a storage quota or a read-only database. A cancelled
// context is never retried either.
func (r RetryBuilder) Except(permanent ...error) RetryBuilder {
	return r.If(func(err error) bool {
		if errors.Is(err, context.Canceled) {
			return false
		}
		for _, p := range permanent {
			if errors.Is(err, p) {
				return false
			}
		}
		return true
	})
}

// Policy returns the assembled RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
