// Package notification sends operator alerts to a Discord webhook
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// DiscordNotificationService handles sending coordinator alerts to Discord
type DiscordNotificationService struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordWebhookPayload represents the payload sent to Discord webhook
type DiscordWebhookPayload struct {
	Content string `json:"content"`
}

// NewDiscordNotificationService creates a new Discord notification service
func NewDiscordNotificationService(webhookURL string) *DiscordNotificationService {
	return &DiscordNotificationService{
		webhookURL: webhookURL,
		enabled:    webhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// sendNotification sends a notification to Discord
func (d *DiscordNotificationService) sendNotification(message string) error {
	if !d.enabled {
		log.Println("Discord notifications disabled (no webhook URL)")
		return nil
	}

	payload := DiscordWebhookPayload{
		Content: message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send Discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("Discord webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NotifySignalExecuted sends a notification when a signal fills
func (d *DiscordNotificationService) NotifySignalExecuted(signalID, symbol string, action string, quantity string, orderID string) error {
	message := fmt.Sprintf("✅ **Signal Executed**\n"+
		"Signal: %s\n"+
		"Symbol: **%s** %s\n"+
		"Quantity: %s\n"+
		"Order: %s",
		signalID, symbol, action, quantity, orderID)
	return d.sendNotification(message)
}

// NotifyStoreDegraded warns that the coordinator is running without the
// shared store, with single-process guarantees only
func (d *DiscordNotificationService) NotifyStoreDegraded(detail string) error {
	message := fmt.Sprintf("⚠️ **Coordination Store Degraded**\n"+
		"Running on in-process state, cross-instance dedup is OFF\n"+
		"Detail: %s", detail)
	return d.sendNotification(message)
}

// NotifyCircuitOpen warns that a downstream endpoint's breaker opened
func (d *DiscordNotificationService) NotifyCircuitOpen(endpoint string) error {
	message := fmt.Sprintf("🔌 **Circuit Opened**\n"+
		"Endpoint **%s** is failing, calls short-circuited", endpoint)
	return d.sendNotification(message)
}

// NotifyAttemptsExhausted reports a signal purged after exceeding its
// attempt budget
func (d *DiscordNotificationService) NotifyAttemptsExhausted(signalID, symbol string) error {
	message := fmt.Sprintf("🚫 **Attempt Budget Exhausted**\n"+
		"Signal %s (%s) purged after exceeding its retry cap", signalID, symbol)
	return d.sendNotification(message)
}

// NotifyError sends an error notification
func (d *DiscordNotificationService) NotifyError(operation, message, errorDetail string) error {
	notification := fmt.Sprintf("❌ **Error in %s**\n"+
		"%s\n"+
		"Detail: %s", operation, message, errorDetail)
	return d.sendNotification(notification)
}

// NotifyRunComplete sends the batch-run summary
func (d *DiscordNotificationService) NotifyRunComplete(processed, admitted, executed, errors int) error {
	message := fmt.Sprintf("🏁 **Coordinator Run Complete**\n"+
		"Candidates: %d\n"+
		"Admitted: %d\n"+
		"Executed: %d\n"+
		"Errors: %d",
		processed, admitted, executed, errors)
	return d.sendNotification(message)
}
