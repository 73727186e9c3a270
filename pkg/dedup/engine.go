// Package dedup implements two-tier signal deduplication: an in-process
// recent-signal window and the cross-process execution record check.
// Both tiers are pre-filters; the atomic claim remains the final gate.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const (
	DefaultWindow       = 5 * time.Minute
	DefaultMaxPerWindow = 20
	ExecutionRecordTTL  = 24 * time.Hour
)

// scalingThreshold: a later signal asking for at least 20% more quantity
// than already executed is position scaling, not a duplicate
var scalingThreshold = decimal.NewFromFloat(1.2)

type windowEntry struct {
	signalID string
	at       time.Time
}

// Engine deduplicates batches of candidates. The recent-signal window is
// a process-local cache; the execution record in the shared store is the
// authority for the already-executed decision.
type Engine struct {
	store        store.Store
	window       time.Duration
	maxPerWindow int

	mu     sync.Mutex
	recent map[string][]windowEntry

	now func() time.Time
}

// NewEngine creates a dedup engine; zero window or cap fall back to the
// defaults
func NewEngine(st store.Store, window time.Duration, maxPerWindow int) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultMaxPerWindow
	}
	return &Engine{
		store:        st,
		window:       window,
		maxPerWindow: maxPerWindow,
		recent:       make(map[string][]windowEntry),
		now:          time.Now,
	}
}

// ExecutionKey builds the store key for the (day, symbol, action)
// execution record
func ExecutionKey(day string, symbol string, action types.Action) string {
	return fmt.Sprintf("exec:%s:%s:%s", day, symbol, action)
}

// Deduplicate filters a batch down to at most one candidate per symbol,
// drops noisy symbols and known duplicates, and stamps survivors with a
// signal ID. Candidates that already carry an ID passed through a
// previous run and are returned unchanged, which makes the engine
// idempotent on its own output. Input candidates are never mutated;
// survivors are annotated clones. The second return value counts the
// dropped candidates per rejection reason.
func (e *Engine) Deduplicate(ctx context.Context, batch []*types.SignalCandidate) ([]*types.SignalCandidate, map[types.RejectReason]int) {
	var out []*types.SignalCandidate
	dropped := make(map[types.RejectReason]int)

	// Highest confidence survives per symbol, first arrival wins ties.
	// Management actions and already-stamped signals bypass grouping,
	// but management candidates still get their own ID.
	best := make(map[string]*types.SignalCandidate)
	var order []string
	for _, sig := range batch {
		if sig.SignalID != "" {
			out = append(out, sig)
			continue
		}
		if sig.Management {
			stamped := sig.Clone()
			stamped.AssignID()
			out = append(out, stamped)
			continue
		}
		current, ok := best[sig.Symbol]
		if !ok {
			best[sig.Symbol] = sig
			order = append(order, sig.Symbol)
			continue
		}
		dropped[types.ReasonLowerConfidence]++
		if sig.NormalizedConfidence() > current.NormalizedConfidence() {
			log.Printf("Dropping %s %s (confidence %.2f) for higher-confidence batch sibling",
				sig.Symbol, current.Action, current.NormalizedConfidence())
			best[sig.Symbol] = sig
		}
	}

	for _, symbol := range order {
		sig := best[symbol]

		if !e.admitToWindow(sig) {
			log.Printf("Rejecting %s: %d signals within %s, symbol too noisy",
				symbol, e.maxPerWindow, e.window)
			dropped[types.ReasonNoisySymbol]++
			continue
		}

		annotated, ok := e.checkExecuted(ctx, sig)
		if !ok {
			dropped[types.ReasonDuplicate]++
			continue
		}
		out = append(out, annotated)
	}
	return out, dropped
}

// admitToWindow enforces the rolling per-symbol signal budget
func (e *Engine) admitToWindow(sig *types.SignalCandidate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.window)
	entries := e.recent[sig.Symbol][:0]
	for _, entry := range e.recent[sig.Symbol] {
		if entry.at.After(cutoff) {
			entries = append(entries, entry)
		}
	}
	e.recent[sig.Symbol] = entries

	return len(entries) < e.maxPerWindow
}

// recordAdmitted adds the stamped signal to the rolling window
func (e *Engine) recordAdmitted(sig *types.SignalCandidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent[sig.Symbol] = append(e.recent[sig.Symbol], windowEntry{
		signalID: sig.SignalID,
		at:       e.now(),
	})
}

// checkExecuted consults the cross-process execution record. Absent
// record: allow. Present: allow only as a scaling action when the new
// quantity exceeds the executed quantity by the scaling threshold.
func (e *Engine) checkExecuted(ctx context.Context, sig *types.SignalCandidate) (*types.SignalCandidate, bool) {
	out := sig.Clone()
	out.AssignID()

	key := ExecutionKey(types.TradingDay(e.now()), sig.Symbol, sig.Action)
	val, err := e.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		e.recordAdmitted(out)
		return out, true
	}
	if err != nil {
		// Store down: this tier is a heuristic, the claim still gates
		log.Printf("Warning: execution record lookup failed for %s, allowing: %v", key, err)
		e.recordAdmitted(out)
		return out, true
	}

	var record types.ExecutionRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		log.Printf("Warning: malformed execution record at %s, allowing: %v", key, err)
		e.recordAdmitted(out)
		return out, true
	}

	if record.Count == 0 {
		e.recordAdmitted(out)
		return out, true
	}

	required := record.Quantity.Mul(scalingThreshold)
	if sig.Quantity.GreaterThanOrEqual(required) {
		out.ScalingAction = true
		out.AdditionalQuantity = sig.Quantity.Sub(record.Quantity)
		log.Printf("Treating %s %s as scaling action: %s already executed, %s additional",
			sig.Symbol, sig.Action, record.Quantity, out.AdditionalQuantity)
		e.recordAdmitted(out)
		return out, true
	}

	log.Printf("Rejecting %s %s as duplicate: %d execution(s) of %s today",
		sig.Symbol, sig.Action, record.Count, record.Quantity)
	return nil, false
}

// PurgeSignal drops any window entries belonging to signalID
func (e *Engine) PurgeSignal(signalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, entries := range e.recent {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.signalID != signalID {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(e.recent, symbol)
		} else {
			e.recent[symbol] = kept
		}
	}
}

// Sweep drops window entries older than the rolling window, bounding
// memory for symbols that went quiet
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.window)
	for symbol, entries := range e.recent {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.at.After(cutoff) {
				kept = append(kept, entry)
			}
		}
		if len(kept) == 0 {
			delete(e.recent, symbol)
		} else {
			e.recent[symbol] = kept
		}
	}
}

// SetClock overrides the time source, for tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}
