// Package positions exposes read-only broker account state to the
// admission guards: open position quantity per symbol and the set of
// pending orders. The core never writes through this interface.
package positions

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

// PendingOrder is an order the broker has accepted but not yet filled
type PendingOrder struct {
	ID       string
	Symbol   string
	Action   types.Action
	Quantity decimal.Decimal
	Status   string
}

// Provider reports current account state. Implementations must return an
// error (not a zero) when the broker is unreachable so the guard can
// apply its degraded-mode policy.
type Provider interface {
	// OpenPosition returns the open quantity for symbol, zero if flat
	OpenPosition(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PendingOrders returns all orders awaiting fill
	PendingOrders(ctx context.Context) ([]PendingOrder, error)
}
