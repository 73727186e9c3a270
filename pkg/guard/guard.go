// Package guard blocks candidates while the symbol is still busy: an
// open order pending at the broker, a post-trade cooldown window, or an
// existing open position.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vignesh-goutham/hermes/pkg/positions"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const DefaultCooldown = 5 * time.Minute

// Guard runs the cooldown and pending-order checks ahead of dedup.
// Management actions bypass every check here: closing a position must
// never be blocked by the position it closes.
type Guard struct {
	store    store.Store
	provider positions.Provider
	cooldown time.Duration

	// failClosed rejects candidates when neither the provider nor the
	// store can answer. Default is fail-open: the cross-process
	// execution record check still runs downstream, trading strict
	// correctness for availability.
	failClosed bool

	now func() time.Time
}

// NewGuard creates a guard. provider may be nil when no broker state is
// available; the guard then degrades to store-only checks.
func NewGuard(st store.Store, provider positions.Provider, cooldown time.Duration, failClosed bool) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{
		store:      st,
		provider:   provider,
		cooldown:   cooldown,
		failClosed: failClosed,
		now:        time.Now,
	}
}

func cooldownKey(symbol string) string {
	return "cooldown:" + symbol
}

// Check decides whether the candidate may proceed to deduplication
func (g *Guard) Check(ctx context.Context, sig *types.SignalCandidate) types.Outcome {
	if sig.Management {
		return types.Accept()
	}

	if out := g.checkPendingOrders(ctx, sig); !out.Accepted {
		return out
	}
	if out := g.checkCooldown(ctx, sig); !out.Accepted {
		return out
	}
	return g.checkOpenPosition(ctx, sig)
}

func (g *Guard) checkPendingOrders(ctx context.Context, sig *types.SignalCandidate) types.Outcome {
	if g.provider == nil {
		return types.Accept()
	}

	pending, err := g.provider.PendingOrders(ctx)
	if err != nil {
		return g.degrade(sig, "pending orders", err)
	}

	for _, order := range pending {
		if order.Symbol == sig.Symbol && order.Action == sig.Action {
			return types.Reject(types.ReasonPendingOrder,
				fmt.Sprintf("order %s still pending", order.ID))
		}
	}
	return types.Accept()
}

func (g *Guard) checkCooldown(ctx context.Context, sig *types.SignalCandidate) types.Outcome {
	val, err := g.store.Get(ctx, cooldownKey(sig.Symbol))
	if errors.Is(err, store.ErrNotFound) {
		return types.Accept()
	}
	if err != nil {
		return g.degrade(sig, "cooldown lookup", err)
	}

	var record types.CooldownRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		log.Printf("Warning: malformed cooldown record for %s, ignoring: %v", sig.Symbol, err)
		return types.Accept()
	}

	remaining := record.ExpiresAt.Sub(g.now())
	if remaining <= 0 {
		return types.Accept()
	}
	return types.Reject(types.ReasonCooldown,
		fmt.Sprintf("cooldown active for %s more", remaining.Round(time.Second)))
}

func (g *Guard) checkOpenPosition(ctx context.Context, sig *types.SignalCandidate) types.Outcome {
	if g.provider == nil {
		return types.Accept()
	}

	qty, err := g.provider.OpenPosition(ctx, sig.Symbol)
	if err != nil {
		return g.degrade(sig, "position lookup", err)
	}
	if !qty.IsZero() {
		return types.Reject(types.ReasonOpenPosition,
			fmt.Sprintf("open position of %s", qty))
	}
	return types.Accept()
}

// degrade applies the configured policy when a dependency cannot answer.
// Fail-open allows the candidate through; the execution record check in
// the dedup engine remains as the cross-process backstop.
func (g *Guard) degrade(sig *types.SignalCandidate, check string, err error) types.Outcome {
	if g.failClosed {
		log.Printf("Guard failing closed for %s %s: %s unavailable: %v", sig.Symbol, sig.Action, check, err)
		return types.Reject(types.ReasonPendingOrder, check+" unavailable")
	}
	log.Printf("Warning: %s unavailable for %s, allowing (fail-open): %v", check, sig.Symbol, err)
	return types.Accept()
}

// ArmCooldown writes the post-trade cooldown record for symbol. Called
// after any confirmed trade, independent of direction.
func (g *Guard) ArmCooldown(ctx context.Context, symbol string) error {
	now := g.now()
	record := types.CooldownRecord{
		Symbol:    symbol,
		ArmedAt:   now,
		ExpiresAt: now.Add(g.cooldown),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown record: %w", err)
	}
	if err := g.store.Set(ctx, cooldownKey(symbol), string(data), g.cooldown); err != nil {
		return fmt.Errorf("failed to arm cooldown for %s: %w", symbol, err)
	}
	log.Printf("Armed %s cooldown for %s", g.cooldown, symbol)
	return nil
}

// ClearCooldown removes the cooldown for symbol, for operator use
func (g *Guard) ClearCooldown(ctx context.Context, symbol string) error {
	if err := g.store.Delete(ctx, cooldownKey(symbol)); err != nil {
		return fmt.Errorf("failed to clear cooldown for %s: %w", symbol, err)
	}
	return nil
}

// SetClock overrides the time source, for tests
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}
