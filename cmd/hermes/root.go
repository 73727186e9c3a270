package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dynamoRegion string
	tableName    string
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Hermes is a trading signal coordination and admission-control service",
	Long: `Hermes coordinates concurrent producers of trading signals so that each
distinct trading intent executes at most once within its validity window.
This CLI exposes the operational controls: purging a signal, clearing a
symbol cooldown and forcing a cleanup sweep against the shared
coordination store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dynamoRegion, "region", envOrDefault("DYNAMODB_REGION", "us-east-1"), "AWS region of the coordination table")
	rootCmd.PersistentFlags().StringVar(&tableName, "table", envOrDefault("TABLE_NAME", "hermes-coordination"), "DynamoDB coordination table name")
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
