// Package coordinator wires the admission pipeline together: quality
// filtering, guards, deduplication, claims, throttling and lifecycle
// tracking. One Coordinator is constructed at process start and shared
// by every caller; cross-process safety comes from the store, not from
// this object.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vignesh-goutham/hermes/pkg/claim"
	"github.com/vignesh-goutham/hermes/pkg/dedup"
	"github.com/vignesh-goutham/hermes/pkg/execution"
	"github.com/vignesh-goutham/hermes/pkg/expiry"
	"github.com/vignesh-goutham/hermes/pkg/guard"
	"github.com/vignesh-goutham/hermes/pkg/lifecycle"
	"github.com/vignesh-goutham/hermes/pkg/metrics"
	"github.com/vignesh-goutham/hermes/pkg/positions"
	"github.com/vignesh-goutham/hermes/pkg/quality"
	"github.com/vignesh-goutham/hermes/pkg/retry"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

// Config carries every tunable of the admission pipeline. Zero values
// fall back to the component defaults.
type Config struct {
	MinConfidence       float64
	MinRiskReward       float64
	CooldownWindow      time.Duration
	DedupWindow         time.Duration
	MaxSignalsPerWindow int
	ClaimTTL            time.Duration
	SignalTTL           time.Duration
	ThrottleInterval    time.Duration
	MaxAttempts         int
	LifecycleBaseTTL    time.Duration
	LightSweepInterval  time.Duration
	DeepSweepInterval   time.Duration
	MaxLifecycleRecords int

	// FailClosed rejects candidates and denies claims when the store or
	// the position provider cannot answer. Default false: availability
	// over strictness, with the risk logged.
	FailClosed bool

	// Circuit breaker settings for the broker hand-off
	ErrorThreshold int
	RecoveryTime   time.Duration
}

// Coordinator is the admission-control facade
type Coordinator struct {
	cfg       Config
	store     store.Store
	degraded  bool
	quality   *quality.Filter
	guard     *guard.Guard
	dedup     *dedup.Engine
	claims    *claim.Coordinator
	expiry    *expiry.Manager
	lifecycle *lifecycle.Manager
	retrier   *retry.Retrier
	broker    *retry.Breaker
	metrics   *metrics.Metrics

	now func() time.Time
}

// New constructs the pipeline. A nil store switches to the in-process
// degraded mode: single-process guarantees only, flagged on Degraded()
// and on the store_degraded gauge, never silently promoted to safe.
func New(cfg Config, st store.Store, provider positions.Provider, m *metrics.Metrics) *Coordinator {
	degraded := false
	if st == nil {
		log.Println("Warning: no coordination store configured, running degraded in-process mode")
		st = store.NewMemoryStore()
		degraded = true
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if degraded {
		m.StoreDegraded.Set(1)
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = time.Minute
	}

	c := &Coordinator{
		cfg:       cfg,
		store:     st,
		degraded:  degraded,
		quality:   quality.NewFilter(cfg.MinConfidence, cfg.MinRiskReward),
		guard:     guard.NewGuard(st, provider, cfg.CooldownWindow, cfg.FailClosed),
		dedup:     dedup.NewEngine(st, cfg.DedupWindow, cfg.MaxSignalsPerWindow),
		claims:    claim.NewCoordinator(st, cfg.ClaimTTL, cfg.FailClosed),
		expiry:    expiry.NewManager(st, cfg.SignalTTL, cfg.ThrottleInterval, cfg.MaxAttempts),
		lifecycle: lifecycle.NewManager(cfg.LifecycleBaseTTL, cfg.LightSweepInterval, cfg.DeepSweepInterval, cfg.MaxLifecycleRecords),
		retrier:   retry.NewRetrier(retry.DefaultPolicy()),
		broker:    retry.NewBreaker("broker", cfg.ErrorThreshold, cfg.RecoveryTime),
		metrics:   m,
		now:       time.Now,
	}

	c.broker.OnStateChange(func(endpoint string, state retry.BreakerState) {
		c.metrics.CircuitState.WithLabelValues(endpoint, string(state)).Inc()
	})

	// The sweep deletes every shadow key an expired signal left behind
	c.lifecycle.AddPurger(func(ctx context.Context, record types.LifecycleRecord) {
		c.dedup.PurgeSignal(record.SignalID)
		if err := c.expiry.PurgeSignal(ctx, record.SignalID); err != nil {
			log.Printf("Warning: attempt purge failed for %s: %v", record.SignalID, err)
		}
		c.expiry.PurgeBlocked(record.SignalID)
		if err := c.claims.ReleaseOwned(ctx, record.Symbol, record.Action, record.SignalID); err != nil {
			log.Printf("Warning: claim purge failed for %s: %v", record.SignalID, err)
		}
	})
	c.lifecycle.OnSweep(func(kind string, removed int) {
		c.dedup.Sweep()
		c.expiry.Sweep()
		c.metrics.SweepsRun.WithLabelValues(kind).Inc()
	})

	return c
}

// Degraded reports whether the coordinator runs on in-process state only
func (c *Coordinator) Degraded() bool {
	return c.degraded
}

// Start launches the background sweep loops until ctx is cancelled
func (c *Coordinator) Start(ctx context.Context) {
	c.lifecycle.Start(ctx)
}

// ProcessBatch runs a batch of raw candidates through quality filtering,
// the guards and deduplication. Survivors are stamped, registered and
// queued; rejections are counted and dropped, never returned as errors.
func (c *Coordinator) ProcessBatch(ctx context.Context, batch []*types.SignalCandidate) []*types.SignalCandidate {
	var passed []*types.SignalCandidate
	for _, sig := range batch {
		c.metrics.SignalsProcessed.Inc()

		if out := c.quality.Check(sig); !out.Accepted {
			c.metrics.SignalsRejected.WithLabelValues(string(out.Reason)).Inc()
			continue
		}
		if out := c.guard.Check(ctx, sig); !out.Accepted {
			c.metrics.SignalsRejected.WithLabelValues(string(out.Reason)).Inc()
			continue
		}
		passed = append(passed, sig)
	}

	admitted, dropped := c.dedup.Deduplicate(ctx, passed)
	for reason, n := range dropped {
		c.metrics.SignalsRejected.WithLabelValues(string(reason)).Add(float64(n))
	}

	queued := admitted[:0]
	for _, sig := range admitted {
		if c.expiry.IsExpired(sig) {
			c.metrics.Expirations.Inc()
			c.metrics.SignalsRejected.WithLabelValues(string(types.ReasonExpired)).Inc()
			continue
		}
		c.lifecycle.Register(sig)
		c.lifecycle.Transition(sig.SignalID, types.StageValidated)
		c.lifecycle.Transition(sig.SignalID, types.StageQueued)
		c.metrics.SignalsAdmitted.Inc()
		queued = append(queued, sig)
	}

	log.Printf("Processed batch of %d candidates, admitted %d", len(batch), len(queued))
	return queued
}

// AttemptExecution runs one execution attempt for an admitted signal:
// validity and throttle checks, the attempt budget, the atomic claim and
// finally the broker hand-off under the breaker and retry wrapper.
// A non-accepted outcome is a normal decision; the error is non-nil only
// when recovery against the broker is exhausted.
func (c *Coordinator) AttemptExecution(ctx context.Context, sig *types.SignalCandidate, executor execution.Executor) (execution.Result, types.Outcome, error) {
	if out := c.expiry.CanExecute(sig); !out.Accepted {
		c.handleRejectedAttempt(ctx, sig, out)
		return execution.Result{}, out, nil
	}

	if out := c.expiry.RegisterAttempt(ctx, sig); !out.Accepted {
		c.handleRejectedAttempt(ctx, sig, out)
		return execution.Result{}, out, nil
	}

	if !c.claims.TryClaim(ctx, sig.Symbol, sig.Action, sig.SignalID) {
		c.metrics.ClaimsDenied.Inc()
		return execution.Result{}, types.Reject(types.ReasonClaimDenied, "claim held by another caller"), nil
	}
	c.metrics.ClaimsGranted.Inc()
	c.lifecycle.Transition(sig.SignalID, types.StageExecuting)

	var result execution.Result
	err := c.broker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, "broker.execute", func(ctx context.Context) error {
			r, err := executor.Execute(ctx, sig)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		c.lifecycle.Transition(sig.SignalID, types.StageFailed)
		c.metrics.Executions.WithLabelValues(string(execution.OutcomeError)).Inc()
		return execution.Result{}, types.Accept(), fmt.Errorf("broker hand-off for %s failed: %w", sig.SignalID, err)
	}

	c.metrics.Executions.WithLabelValues(string(result.Kind)).Inc()
	switch result.Kind {
	case execution.OutcomeFilled:
		c.lifecycle.Transition(sig.SignalID, types.StageExecuted)
		if err := c.recordExecution(ctx, sig); err != nil {
			log.Printf("Warning: failed to update execution record for %s: %v", sig.SignalID, err)
		}
		if err := c.guard.ArmCooldown(ctx, sig.Symbol); err != nil {
			log.Printf("Warning: failed to arm cooldown for %s: %v", sig.Symbol, err)
		}
	default:
		// Broker-side rejection or error outcome: claim lapses by TTL,
		// the signal may retry until its budget runs out
		c.lifecycle.Transition(sig.SignalID, types.StageFailed)
	}
	return result, types.Accept(), nil
}

func (c *Coordinator) handleRejectedAttempt(ctx context.Context, sig *types.SignalCandidate, out types.Outcome) {
	c.metrics.SignalsRejected.WithLabelValues(string(out.Reason)).Inc()
	switch out.Reason {
	case types.ReasonExpired:
		c.metrics.Expirations.Inc()
		c.lifecycle.Transition(sig.SignalID, types.StageExpired)
		if err := c.expiry.PurgeSignal(ctx, sig.SignalID); err != nil {
			log.Printf("Warning: attempt purge failed for expired %s: %v", sig.SignalID, err)
		}
		if err := c.claims.ReleaseOwned(ctx, sig.Symbol, sig.Action, sig.SignalID); err != nil {
			log.Printf("Warning: claim purge failed for expired %s: %v", sig.SignalID, err)
		}
	case types.ReasonAttemptsExhausted:
		c.metrics.AttemptsExhausted.Inc()
		c.lifecycle.Purge(ctx, sig.SignalID)
	}
}

// recordExecution updates the cross-process execution record. The caller
// holds the claim for this (symbol, action), which serializes the
// read-modify-write within the claim TTL.
func (c *Coordinator) recordExecution(ctx context.Context, sig *types.SignalCandidate) error {
	key := dedup.ExecutionKey(types.TradingDay(c.now()), sig.Symbol, sig.Action)

	var record types.ExecutionRecord
	val, err := c.store.Get(ctx, key)
	if err == nil {
		if err := json.Unmarshal([]byte(val), &record); err != nil {
			log.Printf("Warning: resetting malformed execution record at %s: %v", key, err)
			record = types.ExecutionRecord{}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	record.Count++
	if sig.ScalingAction {
		record.Quantity = record.Quantity.Add(sig.AdditionalQuantity)
	} else {
		record.Quantity = record.Quantity.Add(sig.Quantity)
	}
	record.LastSignal = sig.SignalID
	record.UpdatedAt = c.now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}
	return c.store.Set(ctx, key, string(data), dedup.ExecutionRecordTTL)
}

// PurgeSignal removes every trace of signalID, for operator use
func (c *Coordinator) PurgeSignal(ctx context.Context, signalID string) {
	c.lifecycle.Purge(ctx, signalID)
	log.Printf("Purged signal %s", signalID)
}

// ClearCooldown lifts the post-trade cooldown for symbol, for operator use
func (c *Coordinator) ClearCooldown(ctx context.Context, symbol string) error {
	return c.guard.ClearCooldown(ctx, symbol)
}

// ForceSweep runs a deep sweep immediately, for operator use
func (c *Coordinator) ForceSweep(ctx context.Context) int {
	removed := c.lifecycle.DeepSweep(ctx)
	c.metrics.SweepsRun.WithLabelValues("forced").Inc()
	return removed
}

// Lifecycle exposes the lifecycle manager for status queries
func (c *Coordinator) Lifecycle() *lifecycle.Manager {
	return c.lifecycle
}

// Breaker exposes the broker circuit breaker state
func (c *Coordinator) Breaker() *retry.Breaker {
	return c.broker
}
