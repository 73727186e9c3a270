package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vignesh-goutham/hermes/pkg/execution"
	"github.com/vignesh-goutham/hermes/pkg/retry"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

type fakeExecutor struct {
	result execution.Result
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, sig *types.SignalCandidate) (execution.Result, error) {
	f.calls++
	if f.err != nil {
		return execution.Result{}, f.err
	}
	return f.result, nil
}

func testConfig() Config {
	return Config{
		ThrottleInterval: time.Nanosecond,
		ErrorThreshold:   3,
		RecoveryTime:     time.Minute,
	}
}

func candidate(symbol string, confidence float64) *types.SignalCandidate {
	return &types.SignalCandidate{
		Symbol:      symbol,
		Action:      types.ActionBuy,
		EntryPrice:  decimal.NewFromInt(100),
		StopLoss:    decimal.NewFromInt(98),
		Target:      decimal.NewFromInt(105),
		Quantity:    decimal.NewFromInt(10),
		Confidence:  confidence,
		Strategy:    "momentum",
		GeneratedAt: time.Now(),
	}
}

func TestProcessBatchFiltersAndAdmits(t *testing.T) {
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	batch := []*types.SignalCandidate{
		candidate("AAPL", 0.9),
		candidate("AAPL", 0.7),  // lower confidence sibling, deduplicated
		candidate("MSFT", 0.5),  // below the confidence floor
		candidate("NVDA", 0.8),
	}

	admitted := c.ProcessBatch(context.Background(), batch)

	require.Len(t, admitted, 2)
	assert.Equal(t, "AAPL", admitted[0].Symbol)
	assert.Equal(t, "NVDA", admitted[1].Symbol)

	for _, sig := range admitted {
		require.NotEmpty(t, sig.SignalID)
		record, ok := c.Lifecycle().Get(sig.SignalID)
		require.True(t, ok)
		assert.Equal(t, types.StageQueued, record.Stage)
	}
}

func TestProcessBatchDropsStaleCandidates(t *testing.T) {
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	stale := candidate("AAPL", 0.9)
	stale.GeneratedAt = time.Now().Add(-301 * time.Second)

	admitted := c.ProcessBatch(context.Background(), []*types.SignalCandidate{stale})
	assert.Empty(t, admitted)
}

func TestAttemptExecutionFilled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := New(testConfig(), st, nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)
	sig := admitted[0]

	executor := &fakeExecutor{result: execution.Result{Kind: execution.OutcomeFilled, OrderID: "ord-1"}}
	result, out, err := c.AttemptExecution(ctx, sig, executor)

	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, 1, executor.calls)

	record, ok := c.Lifecycle().Get(sig.SignalID)
	require.True(t, ok)
	assert.Equal(t, types.StageExecuted, record.Stage)

	// Cooldown is armed: the same symbol is blocked on the next batch
	next := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	assert.Empty(t, next)
}

func TestAttemptExecutionDuplicateRejectedAfterFill(t *testing.T) {
	ctx := context.Background()
	c := New(Config{ThrottleInterval: time.Nanosecond, CooldownWindow: time.Millisecond, ErrorThreshold: 3, RecoveryTime: time.Minute}, store.NewMemoryStore(), nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)

	executor := &fakeExecutor{result: execution.Result{Kind: execution.OutcomeFilled}}
	_, out, err := c.AttemptExecution(ctx, admitted[0], executor)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	// Once the cooldown lapses, the execution record still rejects the
	// same quantity as a duplicate across processes
	time.Sleep(2 * time.Millisecond)
	next := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	assert.Empty(t, next)

	// A 20% larger order passes as a scaling action
	bigger := candidate("AAPL", 0.9)
	bigger.Quantity = decimal.NewFromInt(12)
	next = c.ProcessBatch(ctx, []*types.SignalCandidate{bigger})
	require.Len(t, next, 1)
	assert.True(t, next[0].ScalingAction)
	assert.True(t, next[0].AdditionalQuantity.Equal(decimal.NewFromInt(2)))
}

func TestProcessBatchStampsManagementCandidates(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	aapl := candidate("AAPL", 0.2)
	aapl.Management = true
	msft := candidate("MSFT", 0.2)
	msft.Management = true

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{aapl, msft})

	require.Len(t, admitted, 2)
	assert.NotEmpty(t, admitted[0].SignalID)
	assert.NotEmpty(t, admitted[1].SignalID)
	assert.NotEqual(t, admitted[0].SignalID, admitted[1].SignalID)

	// Each management candidate owns its own lifecycle record
	assert.Equal(t, 2, c.Lifecycle().Count())
	for _, sig := range admitted {
		record, ok := c.Lifecycle().Get(sig.SignalID)
		require.True(t, ok)
		assert.Equal(t, sig.Symbol, record.Symbol)
	}
}

func TestExpiredRivalCannotReleaseLiveClaim(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)

	executor := &fakeExecutor{result: execution.Result{Kind: execution.OutcomeFilled}}
	_, out, err := c.AttemptExecution(ctx, admitted[0], executor)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	// An expired rival for the same pair is purged without touching the
	// claim it never held
	rival := candidate("AAPL", 0.9)
	rival.SignalID = "rival-signal"
	rival.GeneratedAt = time.Now().Add(-301 * time.Second)
	_, out, err = c.AttemptExecution(ctx, rival, executor)
	require.NoError(t, err)
	require.Equal(t, types.ReasonExpired, out.Reason)

	// The original claim still blocks later callers within its TTL
	third := candidate("AAPL", 0.9)
	third.SignalID = "third-signal"
	_, out, err = c.AttemptExecution(ctx, third, executor)
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, types.ReasonClaimDenied, out.Reason)
	assert.Equal(t, 1, executor.calls)
}

func TestAttemptExecutionClaimDeniedIsNormalOutcome(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	first := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, first, 1)

	executor := &fakeExecutor{result: execution.Result{Kind: execution.OutcomeFilled}}
	_, out, err := c.AttemptExecution(ctx, first[0], executor)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	// A racing caller with its own admitted signal loses the claim
	rival := candidate("AAPL", 0.9)
	rival.SignalID = "rival-signal"
	_, out, err = c.AttemptExecution(ctx, rival, executor)

	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, types.ReasonClaimDenied, out.Reason)
	assert.Equal(t, 1, executor.calls)
}

func TestAttemptExecutionBrokerFailureSurfacesExhaustion(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)

	executor := &fakeExecutor{err: errors.New("connection reset")}
	_, out, err := c.AttemptExecution(ctx, admitted[0], executor)

	require.Error(t, err)
	assert.True(t, out.Accepted)

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)

	record, ok := c.Lifecycle().Get(admitted[0].SignalID)
	require.True(t, ok)
	assert.Equal(t, types.StageFailed, record.Stage)
}

func TestAttemptExecutionExpiredSignalPurged(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c := New(testConfig(), st, nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)
	sig := admitted[0]

	sig.GeneratedAt = time.Now().Add(-301 * time.Second)

	executor := &fakeExecutor{result: execution.Result{Kind: execution.OutcomeFilled}}
	_, out, err := c.AttemptExecution(ctx, sig, executor)

	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, types.ReasonExpired, out.Reason)
	assert.Equal(t, 0, executor.calls)

	record, ok := c.Lifecycle().Get(sig.SignalID)
	require.True(t, ok)
	assert.Equal(t, types.StageExpired, record.Stage)
}

func TestDegradedModeFlag(t *testing.T) {
	c := New(testConfig(), nil, nil, nil)
	assert.True(t, c.Degraded())

	c = New(testConfig(), store.NewMemoryStore(), nil, nil)
	assert.False(t, c.Degraded())
}

func TestForceSweepAndPurge(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig(), store.NewMemoryStore(), nil, nil)

	admitted := c.ProcessBatch(ctx, []*types.SignalCandidate{candidate("AAPL", 0.9)})
	require.Len(t, admitted, 1)

	c.PurgeSignal(ctx, admitted[0].SignalID)
	_, ok := c.Lifecycle().Get(admitted[0].SignalID)
	assert.False(t, ok)

	assert.Equal(t, 0, c.ForceSweep(ctx))
}
