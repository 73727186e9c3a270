package dedup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

func signal(symbol string, confidence float64, qty int64) *types.SignalCandidate {
	return &types.SignalCandidate{
		Symbol:      symbol,
		Action:      types.ActionBuy,
		EntryPrice:  decimal.NewFromInt(100),
		StopLoss:    decimal.NewFromInt(98),
		Target:      decimal.NewFromInt(105),
		Quantity:    decimal.NewFromInt(qty),
		Confidence:  confidence,
		Strategy:    "momentum",
		GeneratedAt: time.Now(),
	}
}

func writeExecutionRecord(t *testing.T, st store.Store, symbol string, count int64, qty int64) {
	t.Helper()
	record := types.ExecutionRecord{
		Count:     count,
		Quantity:  decimal.NewFromInt(qty),
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	key := ExecutionKey(types.TradingDay(time.Now()), symbol, types.ActionBuy)
	require.NoError(t, st.Set(context.Background(), key, string(data), ExecutionRecordTTL))
}

func TestDeduplicateKeepsHighestConfidencePerSymbol(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	batch := []*types.SignalCandidate{
		signal("AAPL", 0.70, 10),
		signal("AAPL", 0.90, 10),
		signal("AAPL", 0.80, 10),
		signal("MSFT", 0.75, 5),
	}

	out, dropped := e.Deduplicate(context.Background(), batch)

	require.Len(t, out, 2)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.InDelta(t, 0.90, out[0].Confidence, 1e-9)
	assert.Equal(t, "MSFT", out[1].Symbol)
	assert.Equal(t, 2, dropped[types.ReasonLowerConfidence])
}

func TestDeduplicateTiesBrokenByArrival(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	first := signal("AAPL", 0.80, 10)
	first.Strategy = "first"
	second := signal("AAPL", 0.80, 10)
	second.Strategy = "second"

	out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{first, second})

	require.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Strategy)
}

func TestDeduplicateStampsUniqueIDs(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	batch := []*types.SignalCandidate{
		signal("AAPL", 0.9, 10),
		signal("MSFT", 0.9, 10),
	}
	// Same generation instant must still produce distinct IDs
	batch[1].GeneratedAt = batch[0].GeneratedAt

	out, _ := e.Deduplicate(context.Background(), batch)

	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].SignalID)
	assert.NotEmpty(t, out[1].SignalID)
	assert.NotEqual(t, out[0].SignalID, out[1].SignalID)

	// Producer-owned inputs are never mutated
	assert.Empty(t, batch[0].SignalID)
}

func TestDeduplicateStampsManagementCandidates(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	aapl := signal("AAPL", 0.2, 10)
	aapl.Management = true
	msft := signal("MSFT", 0.2, 5)
	msft.Management = true

	out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{aapl, msft})

	require.Len(t, out, 2)
	assert.NotEmpty(t, out[0].SignalID)
	assert.NotEmpty(t, out[1].SignalID)
	assert.NotEqual(t, out[0].SignalID, out[1].SignalID)

	assert.Empty(t, aapl.SignalID)
	assert.Empty(t, msft.SignalID)
}

func TestDeduplicateIdempotentOnOwnOutput(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	mgmt := signal("NVDA", 0.5, 3)
	mgmt.Management = true
	batch := []*types.SignalCandidate{
		signal("AAPL", 0.9, 10),
		signal("AAPL", 0.7, 10),
		signal("MSFT", 0.8, 5),
		mgmt,
	}

	first, _ := e.Deduplicate(context.Background(), batch)
	second, _ := e.Deduplicate(context.Background(), first)

	assert.Equal(t, first, second)
}

func TestDeduplicateNoisySymbolRejected(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 5*time.Minute, 3)

	for i := 0; i < 3; i++ {
		out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
		require.Len(t, out, 1)
	}

	// Fourth signal within the window exceeds the cap
	out, dropped := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	assert.Empty(t, out)
	assert.Equal(t, 1, dropped[types.ReasonNoisySymbol])
	assert.Zero(t, dropped[types.ReasonDuplicate])

	// Other symbols are unaffected
	out, _ = e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("MSFT", 0.9, 10)})
	assert.Len(t, out, 1)
}

func TestDeduplicateWindowSlides(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 5*time.Minute, 2)

	now := time.Now()
	e.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
		require.Len(t, out, 1)
	}
	out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	require.Empty(t, out)

	// Past the window the budget resets
	now = now.Add(6 * time.Minute)
	out, _ = e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	assert.Len(t, out, 1)
}

func TestDeduplicateScalingThreshold(t *testing.T) {
	tests := []struct {
		name          string
		newQuantity   int64
		expectPassed  bool
		expectScaling bool
		additional    int64
	}{
		{name: "below threshold is duplicate", newQuantity: 119, expectPassed: false},
		{name: "at threshold is scaling", newQuantity: 120, expectPassed: true, expectScaling: true, additional: 20},
		{name: "above threshold is scaling", newQuantity: 150, expectPassed: true, expectScaling: true, additional: 50},
		{name: "same quantity is duplicate", newQuantity: 100, expectPassed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			writeExecutionRecord(t, st, "AAPL", 1, 100)
			e := NewEngine(st, 0, 0)

			out, dropped := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, tt.newQuantity)})

			if !tt.expectPassed {
				assert.Empty(t, out)
				assert.Equal(t, 1, dropped[types.ReasonDuplicate])
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, tt.expectScaling, out[0].ScalingAction)
			assert.True(t, out[0].AdditionalQuantity.Equal(decimal.NewFromInt(tt.additional)),
				"additional quantity %s", out[0].AdditionalQuantity)
		})
	}
}

func TestDeduplicateManagementBypassesGrouping(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 0, 0)

	mgmt := signal("AAPL", 0.2, 10)
	mgmt.Management = true

	out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{
		mgmt,
		signal("AAPL", 0.9, 10),
	})

	// Both survive: management actions are not grouped with entries
	assert.Len(t, out, 2)
}

func TestPurgeSignalRemovesWindowEntries(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), 5*time.Minute, 1)

	out, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	require.Len(t, out, 1)
	blockedOut, _ := e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	require.Empty(t, blockedOut)

	e.PurgeSignal(out[0].SignalID)

	out, _ = e.Deduplicate(context.Background(), []*types.SignalCandidate{signal("AAPL", 0.9, 10)})
	assert.Len(t, out, 1)
}
