package api

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Transform maps a candidate value to the value that will be validated and
// committed. A returned error aborts the candidate.
type Transform[T any] func(T) (T, error)

// Validator checks a transformed candidate. A nil error accepts it.
type Validator[T any] interface {
	Validate(value T) error
}

// Predicate is a boolean validator; false rejects with ErrValidationFailed.
type Predicate[T any] func(T) bool

func (p Predicate[T]) Validate(value T) error {
	if p(value) {
		return nil
	}
	return ErrValidationFailed
}

// Check is an error-returning validator; the error's message is kept.
type Check[T any] func(T) error

func (c Check[T]) Validate(value T) error {
	return c(value)
}

// Filter returns a Transform that passes values satisfying pred through
// unchanged and rejects the rest with ErrFilterFailed.
func Filter[T any](pred func(T) bool) Transform[T] {
	return func(v T) (T, error) {
		if pred(v) {
			return v, nil
		}
		return v, ErrFilterFailed
	}
}

// Subscriber receives committed values.
type Subscriber[T any] func(T)

// ErrorHandler receives every failure the container raises.
type ErrorHandler func(error)

// RetryPolicy controls how storage writes are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values <= 1 disable retries.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry. Values <= 1 keep
	// the delay constant.
	BackoffMultiplier float64

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration

	// Retryable reports whether a failed write may be attempted again.
	// Nil retries every error except context.Canceled.
	Retryable func(error) bool
}

// ShouldRetry reports whether a write that failed with err may be retried.
// A per-attempt timeout (context.DeadlineExceeded) is retryable by default.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled)
}

// Delay returns the backoff before retry number n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 || p.InitialBackoff <= 0 {
		return 0
	}
	d := float64(p.InitialBackoff)
	if p.BackoffMultiplier > 1 {
		for i := 1; i < n; i++ {
			d *= p.BackoffMultiplier
		}
	}
	out := time.Duration(d)
	if p.MaxBackoff > 0 && out > p.MaxBackoff {
		out = p.MaxBackoff
	}
	return out
}

// Config is the type-agnostic part of a container's options. It is what
// Map carries over to a derived container.
type Config struct {
	// Distinct drops candidates equal to the current value.
	Distinct bool

	// Debounce defers commits until no Set has happened for this long.
	Debounce time.Duration

	// History enables undo/redo. HistorySize > 0 implies History.
	History bool

	// HistorySize bounds history and redo stacks. Zero means unbounded.
	HistorySize int

	// StorageKey enables persistence under this key.
	StorageKey string

	// PersistHistory stores history alongside the value.
	PersistHistory bool

	// Storage is the durable key-value area. If it also implements
	// ChangeFeed and Feed is nil, it is used for external change notification.
	Storage Storage

	// Feed overrides the change feed.
	Feed ChangeFeed

	// Timer schedules debounced commits. Defaults to a real-time timer.
	Timer Timer

	// StorageTimeout bounds each storage call. Defaults to 5s.
	StorageTimeout time.Duration

	// Retry controls storage write retries.
	Retry RetryPolicy

	// Production suppresses re-raising of error handler failures.
	Production bool

	// Context is the parent of every storage call and watch. Defaults to
	// context.Background().
	Context context.Context

	Logger   *slog.Logger
	Observer Observer
}

// HistoryEnabled reports whether undo/redo tracking is on.
func (c Config) HistoryEnabled() bool {
	return c.History || c.HistorySize > 0
}

// Options is the complete, frozen description of a container.
type Options[T any] struct {
	Config

	Transforms []Transform[T]
	Validators []Validator[T]

	// Equal overrides the structural equality used by Distinct and Dirty.
	Equal func(a, b T) bool

	// Default overrides the reset target. Nil means the initial value.
	Default *T

	// Fallback produces a simplified payload used when the value cannot be
	// encoded even with cycle-safe encoding.
	Fallback func(T) any

	ErrorHandlers []ErrorHandler
}

// Validate reports configuration mistakes that would otherwise surface
// later as confusing runtime behavior.
func (o Options[T]) Validate() error {
	if o.HistorySize < 0 {
		return errors.New("statebox: history size must not be negative")
	}
	if o.Debounce < 0 {
		return errors.New("statebox: debounce must not be negative")
	}
	if o.PersistHistory && !o.HistoryEnabled() {
		return errors.New("statebox: persisting history requires history to be enabled")
	}
	if o.StorageKey != "" && o.Storage == nil {
		return errors.New("statebox: storage key set without storage")
	}
	return nil
}
