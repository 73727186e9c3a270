package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/vignesh-goutham/hermes/pkg/coordinator"
	"github.com/vignesh-goutham/hermes/pkg/execution"
	"github.com/vignesh-goutham/hermes/pkg/metrics"
	"github.com/vignesh-goutham/hermes/pkg/notification"
	"github.com/vignesh-goutham/hermes/pkg/positions"
	"github.com/vignesh-goutham/hermes/pkg/store"
	"github.com/vignesh-goutham/hermes/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// candidateInboxPrefix is where strategy producers drop raw candidates
// for the coordinator to pick up on each scheduled run
const candidateInboxPrefix = "candidate:"

// Bot orchestrates one scheduled coordinator run: drain the candidate
// inbox, run admission, attempt execution for the survivors and run the
// cleanup sweep.
type Bot struct {
	config              *Config
	store               store.Store
	coordinator         *coordinator.Coordinator
	executor            execution.Executor
	notificationService *notification.DiscordNotificationService
	errorCount          int
	executedCount       int
}

// NewBot creates a coordinator bot instance
func NewBot(ctx context.Context, config *Config) (*Bot, error) {
	st, err := store.NewDynamoDBStore(ctx, config.DynamoDBRegion, config.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB store: %w", err)
	}

	var provider positions.Provider
	if config.AlpacaAPIKey != "" {
		provider = positions.NewAlpacaProvider(config.AlpacaAPIKey, config.AlpacaSecretKey, config.IsPaperTrading)
	} else {
		log.Println("No Alpaca credentials configured, guard runs without broker state")
	}

	coord := coordinator.New(coordinator.Config{
		MinConfidence:       config.MinConfidence,
		MinRiskReward:       config.MinRiskReward,
		CooldownWindow:      config.CooldownWindow,
		ClaimTTL:            config.ClaimTTL,
		SignalTTL:           config.SignalTTL,
		ThrottleInterval:    config.ThrottleInterval,
		MaxAttempts:         config.MaxAttempts,
		MaxLifecycleRecords: config.MaxLifecycleRecords,
		FailClosed:          config.FailClosed,
	}, st, provider, metrics.New(prometheus.DefaultRegisterer))

	if !config.DryRun {
		log.Println("Warning: DRY_RUN disabled but no broker client is wired, using paper executor")
	}

	return &Bot{
		config:              config,
		store:               st,
		coordinator:         coord,
		executor:            NewPaperExecutor(),
		notificationService: notification.NewDiscordNotificationService(config.DiscordWebhookURL),
	}, nil
}

// Run executes one coordinator cycle
func (b *Bot) Run(ctx context.Context) error {
	log.Println("Starting Hermes signal coordinator run...")

	candidates, err := b.loadCandidates(ctx)
	if err != nil {
		b.notificationService.NotifyError("Candidate Load", "Failed to load candidate inbox", err.Error())
		return fmt.Errorf("failed to load candidates: %w", err)
	}
	log.Printf("Found %d candidates in the inbox", len(candidates))

	admitted := b.coordinator.ProcessBatch(ctx, candidates)

	for _, sig := range admitted {
		result, outcome, err := b.coordinator.AttemptExecution(ctx, sig, b.executor)
		if err != nil {
			log.Printf("Error executing signal %s: %v", sig.SignalID, err)
			b.errorCount++
			b.notificationService.NotifyError("Signal Execution",
				fmt.Sprintf("Recovery exhausted for signal %s", sig.SignalID), err.Error())
			continue
		}
		if !outcome.Accepted {
			log.Printf("Signal %s not executed: %s (%s)", sig.SignalID, outcome.Reason, outcome.Detail)
			continue
		}
		if result.Kind == execution.OutcomeFilled {
			b.executedCount++
			b.notificationService.NotifySignalExecuted(sig.SignalID, sig.Symbol,
				string(sig.Action), sig.Quantity.String(), result.OrderID)
		}
	}

	removed := b.coordinator.ForceSweep(ctx)
	if removed > 0 {
		log.Printf("Cleanup sweep removed %d records", removed)
	}

	b.notificationService.NotifyRunComplete(len(candidates), len(admitted), b.executedCount, b.errorCount)
	log.Println("Coordinator run completed")
	return nil
}

// loadCandidates drains the candidate inbox. Malformed entries are
// dropped with a warning so one bad producer cannot wedge the run.
func (b *Bot) loadCandidates(ctx context.Context) ([]*types.SignalCandidate, error) {
	keys, err := b.store.ScanPrefix(ctx, candidateInboxPrefix)
	if err != nil {
		return nil, err
	}

	var candidates []*types.SignalCandidate
	for _, key := range keys {
		val, err := b.store.Get(ctx, key)
		if err != nil {
			log.Printf("Warning: failed to read candidate %s: %v", key, err)
			continue
		}

		var sig types.SignalCandidate
		if err := json.Unmarshal([]byte(val), &sig); err != nil {
			log.Printf("Warning: dropping malformed candidate %s: %v", key, err)
		} else {
			candidates = append(candidates, &sig)
		}

		if err := b.store.Delete(ctx, key); err != nil {
			log.Printf("Warning: failed to remove candidate %s from inbox: %v", key, err)
		}
	}
	return candidates, nil
}
