package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action represents the trade direction of a signal
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Stage represents the current lifecycle stage of a signal
type Stage string

const (
	StageGenerated Stage = "GENERATED"
	StageValidated Stage = "VALIDATED"
	StageQueued    Stage = "QUEUED"
	StageExecuting Stage = "EXECUTING"
	StageExecuted  Stage = "EXECUTED"
	StageFailed    Stage = "FAILED"
	StageExpired   Stage = "EXPIRED"
	StageCleanedUp Stage = "CLEANED_UP"
)

// RejectReason is the machine-readable reason a candidate was filtered out
type RejectReason string

const (
	ReasonLowConfidence     RejectReason = "low_confidence"
	ReasonMissingFields     RejectReason = "missing_fields"
	ReasonBadQuantity       RejectReason = "bad_quantity"
	ReasonBadPrice          RejectReason = "bad_price"
	ReasonBadRiskReward     RejectReason = "bad_risk_reward"
	ReasonPendingOrder      RejectReason = "pending_order"
	ReasonCooldown          RejectReason = "cooldown_active"
	ReasonOpenPosition      RejectReason = "open_position"
	ReasonDuplicate         RejectReason = "duplicate"
	ReasonNoisySymbol       RejectReason = "noisy_symbol"
	ReasonLowerConfidence   RejectReason = "lower_confidence_in_batch"
	ReasonExpired           RejectReason = "expired"
	ReasonThrottled         RejectReason = "throttled"
	ReasonAttemptsExhausted RejectReason = "attempts_exhausted"
	ReasonClaimDenied       RejectReason = "claim_denied"
)

// Outcome is the result of an admission check. Rejections are normal
// control flow, not errors; Reason is only set when Accepted is false.
type Outcome struct {
	Accepted bool
	Reason   RejectReason
	Detail   string
}

// Accept returns an accepting outcome
func Accept() Outcome {
	return Outcome{Accepted: true}
}

// Reject returns a rejecting outcome with a reason code and detail
func Reject(reason RejectReason, detail string) Outcome {
	return Outcome{Accepted: false, Reason: reason, Detail: detail}
}

// SignalCandidate is a proposed trade instruction awaiting admission to
// execution. Once a SignalID is assigned the identifying fields are
// immutable; only lifecycle stage and attempt counters change.
type SignalCandidate struct {
	SignalID   string          `json:"signal_id,omitempty"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	Target     decimal.Decimal `json:"target"`
	Quantity   decimal.Decimal `json:"quantity"`

	// Confidence as reported by the producer, either 0-1 or 0-10 scale
	Confidence float64 `json:"confidence"`

	Strategy    string    `json:"strategy"`
	GeneratedAt time.Time `json:"generated_at"`

	// Management marks close/scale-out/position-management actions that
	// bypass quality and admission checks
	Management bool `json:"management,omitempty"`

	// Set by the deduplication engine when the candidate scales up an
	// already executed position instead of duplicating it
	ScalingAction      bool            `json:"scaling_action,omitempty"`
	AdditionalQuantity decimal.Decimal `json:"additional_quantity,omitempty"`

	// Strategy-specific fields the core carries but does not interpret
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NormalizedConfidence returns confidence on the 0-1 scale. Producers on
// the 0-10 scale are detected by any value above 1.
func (s *SignalCandidate) NormalizedConfidence() float64 {
	if s.Confidence > 1.0 {
		return s.Confidence / 10.0
	}
	return s.Confidence
}

// Clone returns a copy of the candidate so the core can annotate signals
// without mutating producer-owned state
func (s *SignalCandidate) Clone() *SignalCandidate {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// AssignID stamps a collision-free signal ID. Wall-clock time alone is not
// unique under same-microsecond generation, so a random suffix is added.
func (s *SignalCandidate) AssignID() {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	s.SignalID = fmt.Sprintf("%s-%s-%s-%s", s.Symbol, s.Action,
		s.GeneratedAt.UTC().Format("20060102T150405"), suffix)
}

// ExecutionRecord tracks how much of a (day, symbol, action) tuple has
// already executed, to detect duplicates across processes
type ExecutionRecord struct {
	Count      int64           `json:"count"`
	Quantity   decimal.Decimal `json:"quantity"`
	LastSignal string          `json:"last_signal,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CooldownRecord blocks new signals for a symbol after a confirmed trade
type CooldownRecord struct {
	Symbol    string    `json:"symbol"`
	ArmedAt   time.Time `json:"armed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LifecycleRecord tracks a signal through its stages
type LifecycleRecord struct {
	SignalID         string    `json:"signal_id"`
	Stage            Stage     `json:"stage"`
	Symbol           string    `json:"symbol"`
	Action           Action    `json:"action"`
	Strategy         string    `json:"strategy"`
	Confidence       float64   `json:"confidence"`
	CreatedAt        time.Time `json:"created_at"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// TradingDay formats a timestamp as the UTC trading day used in store keys
func TradingDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
