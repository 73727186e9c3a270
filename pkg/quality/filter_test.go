package quality

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

func candidate(entry, stop, target float64) *types.SignalCandidate {
	return &types.SignalCandidate{
		Symbol:      "AAPL",
		Action:      types.ActionBuy,
		EntryPrice:  decimal.NewFromFloat(entry),
		StopLoss:    decimal.NewFromFloat(stop),
		Target:      decimal.NewFromFloat(target),
		Quantity:    decimal.NewFromInt(10),
		Confidence:  0.8,
		Strategy:    "momentum",
		GeneratedAt: time.Now(),
	}
}

func TestFilterCheck(t *testing.T) {
	tests := []struct {
		name           string
		modify         func(s *types.SignalCandidate)
		expectAccepted bool
		expectReason   types.RejectReason
	}{
		{
			name:           "healthy buy candidate passes",
			modify:         func(s *types.SignalCandidate) {},
			expectAccepted: true,
		},
		{
			name: "missing symbol",
			modify: func(s *types.SignalCandidate) {
				s.Symbol = ""
			},
			expectReason: types.ReasonMissingFields,
		},
		{
			name: "missing stop loss",
			modify: func(s *types.SignalCandidate) {
				s.StopLoss = decimal.Zero
			},
			expectReason: types.ReasonMissingFields,
		},
		{
			name: "negative price",
			modify: func(s *types.SignalCandidate) {
				s.Target = decimal.NewFromFloat(-101)
			},
			expectReason: types.ReasonBadPrice,
		},
		{
			name: "zero quantity",
			modify: func(s *types.SignalCandidate) {
				s.Quantity = decimal.Zero
			},
			expectReason: types.ReasonBadQuantity,
		},
		{
			name: "confidence below minimum",
			modify: func(s *types.SignalCandidate) {
				s.Confidence = 0.5
			},
			expectReason: types.ReasonLowConfidence,
		},
		{
			name: "ten scale confidence is normalized",
			modify: func(s *types.SignalCandidate) {
				s.Confidence = 8.0
			},
			expectAccepted: true,
		},
		{
			name: "stop on wrong side of entry",
			modify: func(s *types.SignalCandidate) {
				s.StopLoss = decimal.NewFromFloat(105)
			},
			expectReason: types.ReasonBadRiskReward,
		},
		{
			name: "management action bypasses everything",
			modify: func(s *types.SignalCandidate) {
				s.Management = true
				s.Quantity = decimal.Zero
				s.Confidence = 0
			},
			expectAccepted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(0, 0)
			sig := candidate(100, 98, 104)
			tt.modify(sig)

			out := f.Check(sig)

			assert.Equal(t, tt.expectAccepted, out.Accepted)
			if !tt.expectAccepted {
				assert.Equal(t, tt.expectReason, out.Reason)
			}
		})
	}
}

func TestFilterRiskRewardBoundary(t *testing.T) {
	f := NewFilter(0, 0)

	// risk=1 reward=1 -> ratio 1.0, below the 1.5 floor
	out := f.Check(candidate(100, 99, 101))
	assert.False(t, out.Accepted)
	assert.Equal(t, types.ReasonBadRiskReward, out.Reason)

	// risk=1 reward=1.6 -> ratio 1.6, accepted
	out = f.Check(candidate(100, 99, 101.6))
	assert.True(t, out.Accepted)
}

func TestRiskRewardSellDirection(t *testing.T) {
	sig := candidate(100, 102, 97)
	sig.Action = types.ActionSell

	risk, reward := RiskReward(sig)

	assert.True(t, risk.Equal(decimal.NewFromInt(2)))
	assert.True(t, reward.Equal(decimal.NewFromInt(3)))
}
