// Package execution defines the hand-off boundary to the broker client.
// The coordinator passes exactly one candidate per successful claim and
// receives back an outcome with identifiers for audit; the broker
// implementation itself lives outside this module.
package execution

import (
	"context"

	"github.com/vignesh-goutham/hermes/pkg/types"
)

// OutcomeKind classifies the broker's response to a hand-off
type OutcomeKind string

const (
	OutcomeFilled   OutcomeKind = "filled"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeError    OutcomeKind = "error"
)

// Result is what the broker client reports back for one hand-off
type Result struct {
	Kind      OutcomeKind
	OrderID   string
	BrokerRef string
	Detail    string
}

// Executor is implemented by the broker client. A transport failure is
// returned as an error and governed by the retry wrapper; a broker-side
// rejection is a Result with OutcomeRejected, not an error.
type Executor interface {
	Execute(ctx context.Context, sig *types.SignalCandidate) (Result, error)
}
