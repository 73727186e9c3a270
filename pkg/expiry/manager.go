// Package expiry enforces the signal validity window, the minimum
// spacing between execution attempts and the per-signal attempt budget.
package expiry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const (
	DefaultSignalTTL        = 300 * time.Second
	DefaultThrottleInterval = 30 * time.Second
	DefaultMaxAttempts      = 10

	// Attempt counters outlive the signal validity window so a
	// restarted process still sees the spent budget
	attemptRecordTTL = time.Hour
)

// Manager tracks validity, throttling and attempt budgets. Attempt
// counts live in the shared store so they survive restarts; last-attempt
// timestamps are process-local heuristics.
type Manager struct {
	store       store.Store
	signalTTL   time.Duration
	throttle    time.Duration
	maxAttempts int

	mu           sync.Mutex
	lastBySymbol map[string]time.Time
	lastBySignal map[string]time.Time
	blocked      map[string]bool

	now func() time.Time
}

// NewManager creates a manager; zero values fall back to the defaults
func NewManager(st store.Store, signalTTL, throttle time.Duration, maxAttempts int) *Manager {
	if signalTTL <= 0 {
		signalTTL = DefaultSignalTTL
	}
	if throttle <= 0 {
		throttle = DefaultThrottleInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{
		store:        st,
		signalTTL:    signalTTL,
		throttle:     throttle,
		maxAttempts:  maxAttempts,
		lastBySymbol: make(map[string]time.Time),
		lastBySignal: make(map[string]time.Time),
		blocked:      make(map[string]bool),
		now:          time.Now,
	}
}

// AttemptKey builds the store key for a signal's attempt counter
func AttemptKey(signalID string) string {
	return "attempt:" + signalID
}

// IsExpired reports whether the signal's validity window has elapsed
func (m *Manager) IsExpired(sig *types.SignalCandidate) bool {
	return m.now().Sub(sig.GeneratedAt) > m.signalTTL
}

// CanExecute decides whether an execution attempt may proceed now.
// Blocks on: spent attempt budget, elapsed validity window, or an
// attempt on the same symbol or signal within the throttle interval.
func (m *Manager) CanExecute(sig *types.SignalCandidate) types.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked[sig.SignalID] {
		return types.Reject(types.ReasonAttemptsExhausted, "attempt budget spent")
	}
	if m.IsExpired(sig) {
		return types.Reject(types.ReasonExpired,
			fmt.Sprintf("generated %s ago, ttl %s", m.now().Sub(sig.GeneratedAt).Round(time.Second), m.signalTTL))
	}

	now := m.now()
	if last, ok := m.lastBySymbol[sig.Symbol]; ok && now.Sub(last) < m.throttle {
		return types.Reject(types.ReasonThrottled,
			fmt.Sprintf("symbol attempted %s ago", now.Sub(last).Round(time.Second)))
	}
	if last, ok := m.lastBySignal[sig.SignalID]; ok && now.Sub(last) < m.throttle {
		return types.Reject(types.ReasonThrottled,
			fmt.Sprintf("signal attempted %s ago", now.Sub(last).Round(time.Second)))
	}
	return types.Accept()
}

// RegisterAttempt records an execution attempt against the signal's
// budget. Exceeding the cap purges the manager's state for the signal,
// permanently blocks it and returns a rejecting outcome; the caller is
// expected to purge collaborating caches.
func (m *Manager) RegisterAttempt(ctx context.Context, sig *types.SignalCandidate) types.Outcome {
	now := m.now()
	m.mu.Lock()
	m.lastBySymbol[sig.Symbol] = now
	m.lastBySignal[sig.SignalID] = now
	m.mu.Unlock()

	count, err := m.store.IncrBy(ctx, AttemptKey(sig.SignalID), 1, attemptRecordTTL)
	if err != nil {
		// Budget enforcement degrades to process-local throttling only
		log.Printf("Warning: attempt counter unavailable for %s: %v", sig.SignalID, err)
		return types.Accept()
	}

	if count > int64(m.maxAttempts) {
		log.Printf("Signal %s exceeded %d attempts, blocking", sig.SignalID, m.maxAttempts)
		m.mu.Lock()
		m.blocked[sig.SignalID] = true
		delete(m.lastBySignal, sig.SignalID)
		m.mu.Unlock()
		return types.Reject(types.ReasonAttemptsExhausted,
			fmt.Sprintf("%d attempts exceeds cap of %d", count, m.maxAttempts))
	}
	return types.Accept()
}

// PurgeSignal removes all throttle and attempt state for signalID, both
// local and in the store. Exhausted signals keep their store counter: it
// is the cross-instance tombstone that stops a restarted or sibling
// process from granting the signal a fresh budget, and it ages out on
// its own TTL.
func (m *Manager) PurgeSignal(ctx context.Context, signalID string) error {
	m.mu.Lock()
	delete(m.lastBySignal, signalID)
	exhausted := m.blocked[signalID]
	m.mu.Unlock()

	if exhausted {
		return nil
	}
	if err := m.store.Delete(ctx, AttemptKey(signalID)); err != nil {
		return fmt.Errorf("failed to delete attempt record for %s: %w", signalID, err)
	}
	return nil
}

// Sweep drops throttle timestamps that can no longer block anything and
// unblocks nothing: the blocked set is bounded by the attempt cap flow
// and cleared only through PurgeBlocked.
func (m *Manager) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.throttle)
	for symbol, last := range m.lastBySymbol {
		if last.Before(cutoff) {
			delete(m.lastBySymbol, symbol)
		}
	}
	for signalID, last := range m.lastBySignal {
		if last.Before(cutoff) {
			delete(m.lastBySignal, signalID)
		}
	}
}

// PurgeBlocked removes signalID from the permanent block list, freeing
// the memory once the lifecycle record is cleaned up
func (m *Manager) PurgeBlocked(signalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, signalID)
}

// SignalTTL returns the validity window
func (m *Manager) SignalTTL() time.Duration {
	return m.signalTTL
}

// SetClock overrides the time source, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
