// Package quality implements the stateless first-stage filter over
// candidate signals: field validation plus a risk/reward floor.
package quality

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const (
	DefaultMinConfidence = 0.65
	DefaultMinRiskReward = 1.5
)

// Filter validates one candidate at a time. It is a pure function over
// the candidate; rejections are outcomes, never errors.
type Filter struct {
	minConfidence float64
	minRiskReward decimal.Decimal
}

// NewFilter creates a filter with the given thresholds; zero values fall
// back to the defaults
func NewFilter(minConfidence float64, minRiskReward float64) *Filter {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if minRiskReward <= 0 {
		minRiskReward = DefaultMinRiskReward
	}
	return &Filter{
		minConfidence: minConfidence,
		minRiskReward: decimal.NewFromFloat(minRiskReward),
	}
}

// Check decides whether the candidate passes quality validation.
// Management and scaling actions from the producer bypass every check.
func (f *Filter) Check(sig *types.SignalCandidate) types.Outcome {
	if sig.Management || sig.ScalingAction {
		return types.Accept()
	}

	if sig.Symbol == "" || sig.Action == "" {
		return f.reject(sig, types.ReasonMissingFields, "symbol or action missing")
	}
	if sig.EntryPrice.IsZero() || sig.StopLoss.IsZero() || sig.Target.IsZero() {
		return f.reject(sig, types.ReasonMissingFields, "entry, stop or target missing")
	}
	if !sig.EntryPrice.IsPositive() || !sig.StopLoss.IsPositive() || !sig.Target.IsPositive() {
		return f.reject(sig, types.ReasonBadPrice, "prices must be positive")
	}
	if !sig.Quantity.IsPositive() {
		return f.reject(sig, types.ReasonBadQuantity, fmt.Sprintf("quantity %s", sig.Quantity))
	}

	if conf := sig.NormalizedConfidence(); conf < f.minConfidence {
		return f.reject(sig, types.ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", conf, f.minConfidence))
	}

	risk, reward := RiskReward(sig)
	if !risk.IsPositive() || !reward.IsPositive() {
		return f.reject(sig, types.ReasonBadRiskReward, "risk and reward must be positive")
	}
	if ratio := reward.Div(risk); ratio.LessThan(f.minRiskReward) {
		return f.reject(sig, types.ReasonBadRiskReward,
			fmt.Sprintf("ratio %s below %s", ratio.StringFixed(2), f.minRiskReward))
	}

	return types.Accept()
}

func (f *Filter) reject(sig *types.SignalCandidate, reason types.RejectReason, detail string) types.Outcome {
	log.Printf("Quality filter rejected %s %s (%s): %s", sig.Symbol, sig.Action, reason, detail)
	return types.Reject(reason, detail)
}

// RiskReward computes the direction-aware risk (entry to stop) and reward
// (entry to target) distances. For a BUY the stop sits below entry and
// the target above; for a SELL the reverse. A wrong-side stop or target
// yields a non-positive value and fails the filter.
func RiskReward(sig *types.SignalCandidate) (risk, reward decimal.Decimal) {
	switch sig.Action {
	case types.ActionBuy:
		risk = sig.EntryPrice.Sub(sig.StopLoss)
		reward = sig.Target.Sub(sig.EntryPrice)
	case types.ActionSell:
		risk = sig.StopLoss.Sub(sig.EntryPrice)
		reward = sig.EntryPrice.Sub(sig.Target)
	}
	return risk, reward
}
