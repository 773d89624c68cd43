// Package debounce implements the commit scheduler: a single pending value
// guarded by a timer, with last-value-wins semantics.
package debounce

import (
	"time"

	"github.com/petrijr/statebox/pkg/api"
)

// Scheduler is not safe for concurrent use; the container serializes access.
//
// Every Request and Cancel bumps a generation counter. A timer callback
// carries the generation it was armed with, and Take refuses stale
// generations, so a fire that raced with a cancellation can never apply.
type Scheduler[T any] struct {
	timer api.Timer
	delay time.Duration

	gen     uint64
	pending bool
	value   T
	handle  api.TimerHandle
}

// New returns a Scheduler. A non-positive delay disables deferral.
func New[T any](timer api.Timer, delay time.Duration) *Scheduler[T] {
	return &Scheduler[T]{timer: timer, delay: delay}
}

// Enabled reports whether commits are deferred.
func (s *Scheduler[T]) Enabled() bool {
	return s.delay > 0 && s.timer != nil
}

// Delay returns the configured debounce interval.
func (s *Scheduler[T]) Delay() time.Duration {
	return s.delay
}

// Request replaces any pending value with v and restarts the timer. fire is
// called from the timer with the generation to pass to Take. On a scheduling
// error nothing is left pending.
func (s *Scheduler[T]) Request(v T, fire func(gen uint64)) error {
	s.Cancel()
	gen := s.gen
	h, err := s.timer.Schedule(s.delay, func() { fire(gen) })
	if err != nil {
		return err
	}
	s.pending = true
	s.value = v
	s.handle = h
	return nil
}

// Take returns the pending value if gen is still current and clears the
// slot.
func (s *Scheduler[T]) Take(gen uint64) (T, bool) {
	var zero T
	if !s.pending || gen != s.gen {
		return zero, false
	}
	v := s.value
	s.clear()
	return v, true
}

// TakeNow cancels the timer and returns the pending value, if any.
func (s *Scheduler[T]) TakeNow() (T, bool) {
	var zero T
	if !s.pending {
		return zero, false
	}
	v := s.value
	s.Cancel()
	return v, true
}

// Cancel invalidates the timer and clears the pending value. It reports
// whether a value was pending.
func (s *Scheduler[T]) Cancel() bool {
	s.gen++
	if !s.pending {
		return false
	}
	s.timer.Cancel(s.handle)
	s.clear()
	return true
}

// Pending returns the value waiting on the timer.
func (s *Scheduler[T]) Pending() (T, bool) {
	return s.value, s.pending
}

func (s *Scheduler[T]) clear() {
	var zero T
	s.pending = false
	s.value = zero
	s.handle = 0
}
