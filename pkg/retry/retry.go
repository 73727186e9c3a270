// Package retry provides the generic retry, recovery and circuit breaker
// decorators that wrap every unreliable downstream call in Hermes.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy controls backoff behaviour for a retried operation
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64
	Jitter       bool
}

// DefaultPolicy matches the spacing used for store and broker calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

// ExhaustedError is returned once every retry, recovery and fallback
// attempt has failed. It carries the original cause for the caller.
type ExhaustedError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.Op, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// RecoveryFunc attempts to repair the condition behind err (reconnect,
// refresh credentials) so the operation can be retried once more
type RecoveryFunc func(ctx context.Context, err error) error

// Retrier runs operations under a Policy with registered per-error
// recovery strategies and an optional terminal fallback
type Retrier struct {
	policy     Policy
	strategies []recoveryEntry
	fallback   RecoveryFunc
	sleep      func(ctx context.Context, d time.Duration) error
	randFloat  func() float64
}

type recoveryEntry struct {
	matches func(error) bool
	recover RecoveryFunc
}

// NewRetrier creates a Retrier with the given policy
func NewRetrier(policy Policy) *Retrier {
	return &Retrier{
		policy:    policy,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Register adds a recovery strategy invoked when the exhausted error
// matches the predicate
func (r *Retrier) Register(matches func(error) bool, recover RecoveryFunc) {
	r.strategies = append(r.strategies, recoveryEntry{matches: matches, recover: recover})
}

// SetFallback sets the last-resort strategy invoked after recovery fails
func (r *Retrier) SetFallback(fn RecoveryFunc) {
	r.fallback = fn
}

// Do runs op with exponential backoff. On exhaustion it invokes a
// matching recovery strategy and retries once more, then the fallback;
// if those are absent or also fail it returns an ExhaustedError wrapping
// the original cause.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	lastErr, attempts := r.run(ctx, op)
	if lastErr == nil {
		return nil
	}

	for _, entry := range r.strategies {
		if !entry.matches(lastErr) {
			continue
		}
		if err := entry.recover(ctx, lastErr); err != nil {
			break
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		attempts++
		break
	}

	if r.fallback != nil {
		if err := r.fallback(ctx, lastErr); err == nil {
			return nil
		}
	}

	return &ExhaustedError{Op: name, Attempts: attempts, Cause: lastErr}
}

func (r *Retrier) run(ctx context.Context, op func(ctx context.Context) error) (error, int) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil, attempt
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.delay(attempt)); err != nil {
			return lastErr, attempt
		}
	}
	return lastErr, r.policy.MaxAttempts
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Base, float64(attempt-1))
	d = math.Min(d, float64(r.policy.MaxDelay))
	if r.policy.Jitter {
		d *= 0.5 + 0.5*r.randFloat()
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
