package internal

import "time"

// Config holds the coordinator service configuration
type Config struct {
	// DynamoDB configuration
	DynamoDBRegion string
	TableName      string

	// Alpaca credentials for the read-only position/order provider;
	// empty keys disable the provider and the guard degrades
	AlpacaAPIKey    string
	AlpacaSecretKey string
	IsPaperTrading  bool

	// Admission tuning
	MinConfidence       float64
	MinRiskReward       float64
	CooldownWindow      time.Duration
	ClaimTTL            time.Duration
	SignalTTL           time.Duration
	ThrottleInterval    time.Duration
	MaxAttempts         int
	MaxLifecycleRecords int
	FailClosed          bool

	// DryRun hands admitted signals to the paper executor instead of a
	// broker client
	DryRun bool

	// Discord notifications
	DiscordWebhookURL string
}
