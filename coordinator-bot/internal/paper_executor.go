package internal

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/vignesh-goutham/hermes/pkg/execution"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

// PaperExecutor stands in for the broker client: it fills every hand-off
// with a synthetic order ID. Used in dry runs and until a real broker
// client is wired in.
type PaperExecutor struct{}

// NewPaperExecutor creates a paper executor
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{}
}

// Execute reports a synthetic fill for the candidate
func (p *PaperExecutor) Execute(ctx context.Context, sig *types.SignalCandidate) (execution.Result, error) {
	orderID := "paper-" + uuid.New().String()
	log.Printf("Paper fill: %s %s %s @ %s (order %s)",
		sig.Action, sig.Quantity, sig.Symbol, sig.EntryPrice, orderID)
	return execution.Result{
		Kind:    execution.OutcomeFilled,
		OrderID: orderID,
	}, nil
}
