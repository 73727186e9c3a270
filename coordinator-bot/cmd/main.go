package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/vignesh-goutham/hermes/coordinator-bot/internal"
)

// Lambda handler for AWS Lambda triggered by EventBridge Scheduler
func handler(ctx context.Context, request events.CloudWatchEvent) error {
	log.Printf("Hermes Signal Coordinator triggered by EventBridge Scheduler: %s", request.ID)

	// Load configuration from environment variables
	config, err := loadConfigFromEnv()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return err
	}

	// Create context with timeout (5 minutes for Lambda)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	// Create the coordinator bot
	bot, err := internal.NewBot(ctx, config)
	if err != nil {
		log.Printf("Failed to create coordinator bot: %v", err)
		return err
	}

	// Run one coordination cycle
	err = bot.Run(ctx)
	if err != nil {
		log.Printf("Coordinator run failed: %v", err)
		return err
	}

	log.Println("Hermes Signal Coordinator completed successfully")
	return nil
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv() (*internal.Config, error) {
	config := &internal.Config{}

	// DynamoDB configuration
	config.DynamoDBRegion = getEnvOrDefault("DYNAMODB_REGION", "us-east-1")
	config.TableName = getEnvOrDefault("TABLE_NAME", "hermes-coordination")

	// Alpaca credentials are optional; without them the guard degrades
	// to store-only checks
	config.AlpacaAPIKey = getEnvOrDefault("ALPACA_API_KEY", "")
	config.AlpacaSecretKey = getEnvOrDefault("ALPACA_SECRET_KEY", "")
	config.IsPaperTrading = getEnvAsBoolOrDefault("IS_PAPER_TRADING", true)

	// Admission tuning
	config.MinConfidence = getEnvAsFloatOrDefault("MIN_CONFIDENCE", 0.65)
	config.MinRiskReward = getEnvAsFloatOrDefault("MIN_RISK_REWARD", 1.5)
	config.CooldownWindow = time.Duration(getEnvAsIntOrDefault("COOLDOWN_SECONDS", 300)) * time.Second
	config.ClaimTTL = time.Duration(getEnvAsIntOrDefault("CLAIM_TTL_SECONDS", 30)) * time.Second
	config.SignalTTL = time.Duration(getEnvAsIntOrDefault("SIGNAL_TTL_SECONDS", 300)) * time.Second
	config.ThrottleInterval = time.Duration(getEnvAsIntOrDefault("THROTTLE_SECONDS", 30)) * time.Second
	config.MaxAttempts = getEnvAsIntOrDefault("MAX_ATTEMPTS", 10)
	config.MaxLifecycleRecords = getEnvAsIntOrDefault("MAX_LIFECYCLE_RECORDS", 1000)
	config.FailClosed = getEnvAsBoolOrDefault("FAIL_CLOSED", false)
	config.DryRun = getEnvAsBoolOrDefault("DRY_RUN", true)

	// Discord notifications
	config.DiscordWebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", "")

	return config, nil
}

// getEnvOrDefault gets an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsIntOrDefault gets an environment variable as int or returns a default value
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

// getEnvAsFloatOrDefault gets an environment variable as float64 or returns a default value
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: Invalid float value for %s: %s, using default: %f", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

// getEnvAsBoolOrDefault gets an environment variable as bool or returns a default value
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Convert to lowercase for case-insensitive comparison
	lowerValue := strings.ToLower(value)
	return lowerValue == "true" || lowerValue == "1" || lowerValue == "yes"
}

func main() {
	lambda.Start(handler)
}
