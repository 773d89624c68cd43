package statebox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/petrijr/statebox/pkg/config"
)

// Ensure non-positive maxAttempts is normalized to 1.
func TestRetry_NonPositiveMaxAttemptsDefaultsToOne(t *testing.T) {
	p := Retry(0).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts=1 for Retry(0), got %d", p.MaxAttempts)
	}

	p = Retry(-5).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts=1 for Retry(-5), got %d", p.MaxAttempts)
	}
}

// Ensure WithExponentialBackoff wires fields correctly and default multiplier is applied.
func TestRetry_WithExponentialBackoff_UsesDefaults(t *testing.T) {
	initial := 100 * time.Millisecond
	max := 2 * time.Second

	// multiplier <= 0 should default to 2.0
	p := Retry(3).
		WithExponentialBackoff(initial, 0, max).
		Policy()

	if p.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts=3, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff != initial {
		t.Fatalf("expected InitialBackoff=%v, got %v", initial, p.InitialBackoff)
	}
	if p.MaxBackoff != max {
		t.Fatalf("expected MaxBackoff=%v, got %v", max, p.MaxBackoff)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Fatalf("expected BackoffMultiplier=2.0 (default), got %v", p.BackoffMultiplier)
	}
}

// Ensure WithExponentialBackoff respects an explicit multiplier.
func TestRetry_WithExponentialBackoff_ExplicitMultiplier(t *testing.T) {
	initial := 50 * time.Millisecond
	max := 500 * time.Millisecond
	mult := 3.0

	p := Retry(4).
		WithExponentialBackoff(initial, mult, max).
		Policy()

	if p.InitialBackoff != initial {
		t.Fatalf("expected InitialBackoff=%v, got %v", initial, p.InitialBackoff)
	}
	if p.MaxBackoff != max {
		t.Fatalf("expected MaxBackoff=%v, got %v", max, p.MaxBackoff)
	}
	if p.BackoffMultiplier != mult {
		t.Fatalf("expected BackoffMultiplier=%v, got %v", mult, p.BackoffMultiplier)
	}
}

// Ensure WithConstantBackoff sets a fixed delay and uses multiplier 1.0.
func TestRetry_WithConstantBackoff(t *testing.T) {
	delay := 250 * time.Millisecond

	p := Retry(5).
		WithConstantBackoff(delay).
		Policy()

	if p.MaxAttempts != 5 {
		t.Fatalf("expected MaxAttempts=5, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff != delay {
		t.Fatalf("expected InitialBackoff=%v, got %v", delay, p.InitialBackoff)
	}
	if p.MaxBackoff != 0 {
		t.Fatalf("expected MaxBackoff=0 for constant backoff, got %v", p.MaxBackoff)
	}
	if p.BackoffMultiplier != 1.0 {
		t.Fatalf("expected BackoffMultiplier=1.0, got %v", p.BackoffMultiplier)
	}
}

// Ensure Immediate clears all backoff-related timing without changing MaxAttempts.
func TestRetry_ImmediateClearsBackoff(t *testing.T) {
	p := Retry(7).
		WithExponentialBackoff(100*time.Millisecond, 2.0, 5*time.Second).
		Immediate().
		Policy()

	if p.MaxAttempts != 7 {
		t.Fatalf("expected MaxAttempts=7, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff != 0 {
		t.Fatalf("expected InitialBackoff=0 after Immediate, got %v", p.InitialBackoff)
	}
	if p.MaxBackoff != 0 {
		t.Fatalf("expected MaxBackoff=0 after Immediate, got %v", p.MaxBackoff)
	}
	if p.BackoffMultiplier != 0 {
		t.Fatalf("expected BackoffMultiplier=0 after Immediate, got %v", p.BackoffMultiplier)
	}
}

// Ensure the built policy produces the expected delay sequence.
func TestRetry_PolicyDelays(t *testing.T) {
	p := Retry(5).
		WithExponentialBackoff(10*time.Millisecond, 2.0, 50*time.Millisecond).
		Policy()

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("retry %d: expected delay %v, got %v", i+1, w, got)
		}
	}

	if d := Retry(3).Immediate().Policy().Delay(1); d != 0 {
		t.Fatalf("expected no delay for Immediate, got %v", d)
	}
}

// Ensure the default policy retries everything except cancellation.
func TestRetry_DefaultRetryable(t *testing.T) {
	p := Retry(3).Policy()

	if !p.ShouldRetry(errors.New("connection reset")) {
		t.Fatalf("expected a transient error to be retried")
	}
	if !p.ShouldRetry(context.DeadlineExceeded) {
		t.Fatalf("expected a per-attempt timeout to be retried")
	}
	if p.ShouldRetry(fmt.Errorf("store: %w", context.Canceled)) {
		t.Fatalf("expected a cancelled write not to be retried")
	}
	if p.ShouldRetry(nil) {
		t.Fatalf("expected nil not to be retried")
	}
}

// Ensure Except stops on permanent storage errors, wrapped or not.
func TestRetry_ExceptPermanentErrors(t *testing.T) {
	errQuota := errors.New("quota exceeded")
	p := Retry(5).Immediate().Except(errQuota).Policy()

	if p.ShouldRetry(fmt.Errorf("redis: %w", errQuota)) {
		t.Fatalf("expected a wrapped permanent error not to be retried")
	}
	if p.ShouldRetry(context.Canceled) {
		t.Fatalf("expected cancellation not to be retried")
	}
	if !p.ShouldRetry(errors.New("busy")) {
		t.Fatalf("expected other errors to be retried")
	}
}

// Ensure If replaces the predicate.
func TestRetry_IfPredicate(t *testing.T) {
	busy := errors.New("database is locked")
	p := Retry(2).Except(busy).If(func(err error) bool { return errors.Is(err, busy) }).Policy()

	if !p.ShouldRetry(busy) {
		t.Fatalf("expected the If predicate to win over Except")
	}
	if p.ShouldRetry(errors.New("disk full")) {
		t.Fatalf("expected errors rejected by If not to be retried")
	}
}

// Ensure the YAML retry section maps onto a policy.
func TestRetryFromConfig(t *testing.T) {
	if p := RetryFromConfig(config.RetryConfig{}); p.MaxAttempts != 0 || p.InitialBackoff != 0 {
		t.Fatalf("expected the zero policy, got %+v", p)
	}

	p := RetryFromConfig(config.RetryConfig{Attempts: 3, Backoff: 10 * time.Millisecond, MaxBackoff: 15 * time.Millisecond})
	if p.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts=3, got %d", p.MaxAttempts)
	}
	if p.BackoffMultiplier != 2.0 {
		t.Fatalf("expected default multiplier 2.0, got %v", p.BackoffMultiplier)
	}
	if d := p.Delay(2); d != 15*time.Millisecond {
		t.Fatalf("expected capped delay 15ms, got %v", d)
	}
}
