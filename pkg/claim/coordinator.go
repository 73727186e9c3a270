// Package claim implements the distributed execution claim: a
// short-lived lock granting exactly one caller the right to execute a
// (symbol, action) pair. Every other admission check is a heuristic
// pre-filter; this is the sole correctness boundary against duplicate
// execution when processes race.
package claim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const DefaultTTL = 30 * time.Second

// Coordinator grants execution claims through the shared store
type Coordinator struct {
	store store.Store
	ttl   time.Duration

	// failClosed denies claims when the store cannot answer. Default is
	// fail-open: allow and log the duplicate-trade risk, so a dead
	// store degrades throughput instead of halting all execution.
	failClosed bool

	now func() time.Time
}

// NewCoordinator creates a claim coordinator; zero ttl falls back to the
// default 30s window
func NewCoordinator(st store.Store, ttl time.Duration, failClosed bool) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		store:      st,
		ttl:        ttl,
		failClosed: failClosed,
		now:        time.Now,
	}
}

// Key builds the claim key for a (day, symbol, action) tuple
func Key(day string, symbol string, action types.Action) string {
	return fmt.Sprintf("claim:%s:%s:%s", day, symbol, action)
}

// TryClaim attempts to acquire the execution claim for signalID. Exactly
// one caller receives true per TTL window across all processes; a false
// return is a normal outcome, not an error, and the caller must not
// execute. The signal ID becomes the claim value so a later release can
// prove ownership.
func (c *Coordinator) TryClaim(ctx context.Context, symbol string, action types.Action, signalID string) bool {
	key := Key(types.TradingDay(c.now()), symbol, action)

	won, err := c.store.SetNX(ctx, key, signalID, c.ttl)
	if err != nil {
		if c.failClosed {
			log.Printf("Claim store unavailable, denying %s %s (fail-closed): %v", symbol, action, err)
			return false
		}
		log.Printf("Warning: claim store unavailable, allowing %s %s without claim (duplicate risk): %v",
			symbol, action, err)
		return true
	}
	if !won {
		log.Printf("Claim denied for %s %s: already held", symbol, action)
	}
	return won
}

// ReleaseOwned deletes the claim ahead of its TTL only while signalID
// still owns it. The claim key is shared per (symbol, action), so an
// expired or purged signal must never remove a rival's live claim; the
// conditional delete makes the ownership check atomic.
func (c *Coordinator) ReleaseOwned(ctx context.Context, symbol string, action types.Action, signalID string) error {
	key := Key(types.TradingDay(c.now()), symbol, action)
	deleted, err := c.store.CompareAndDelete(ctx, key, signalID)
	if err != nil {
		return fmt.Errorf("failed to release claim for %s %s: %w", symbol, action, err)
	}
	if !deleted {
		log.Printf("Claim for %s %s not held by %s, leaving it in place", symbol, action, signalID)
	}
	return nil
}

// Release deletes the claim unconditionally, whoever holds it. Normal
// release is simply expiry; this exists for operator purges only.
func (c *Coordinator) Release(ctx context.Context, symbol string, action types.Action) error {
	key := Key(types.TradingDay(c.now()), symbol, action)
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to release claim for %s %s: %w", symbol, action, err)
	}
	return nil
}

// TTL returns the claim window
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// SetClock overrides the time source, for tests
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}
