package retry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is the standard unavailable response returned when a
// breaker short-circuits a call without invoking the operation
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the current state of a circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker protects a single downstream endpoint. After ErrorThreshold
// consecutive failures it opens for RecoveryTime, then permits one trial
// call; success closes it, failure reopens it.
type Breaker struct {
	endpoint       string
	errorThreshold int
	recoveryTime   time.Duration

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	trialPending bool

	now           func() time.Time
	onStateChange func(endpoint string, state BreakerState)
}

// NewBreaker creates a closed breaker for one endpoint
func NewBreaker(endpoint string, errorThreshold int, recoveryTime time.Duration) *Breaker {
	return &Breaker{
		endpoint:       endpoint,
		errorThreshold: errorThreshold,
		recoveryTime:   recoveryTime,
		state:          BreakerClosed,
		now:            time.Now,
	}
}

// OnStateChange registers a hook invoked on every transition, used to
// feed the circuit state counters
func (b *Breaker) OnStateChange(fn func(endpoint string, state BreakerState)) {
	b.onStateChange = fn
}

// State returns the current state, applying the open->half-open timeout
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Execute runs op unless the breaker is open. In half-open state exactly
// one trial call is admitted; concurrent callers are rejected until the
// trial resolves.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.refreshLocked()

	switch b.state {
	case BreakerOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if b.trialPending {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trialPending = true
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialPending = false

	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.errorThreshold {
			b.transitionLocked(BreakerOpen)
			b.openedAt = b.now()
		}
		return err
	}

	b.failures = 0
	if b.state != BreakerClosed {
		b.transitionLocked(BreakerClosed)
	}
	return nil
}

func (b *Breaker) refreshLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.recoveryTime {
		b.transitionLocked(BreakerHalfOpen)
	}
}

func (b *Breaker) transitionLocked(state BreakerState) {
	if b.state == state {
		return
	}
	b.state = state
	if b.onStateChange != nil {
		b.onStateChange(b.endpoint, state)
	}
}

// SetClock overrides the time source, for tests
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}
