package positions

import (
	"context"
	"fmt"
	"strings"

	alpaca "github.com/alpacahq/alpaca-trade-api-go/v2/alpaca"
	"github.com/shopspring/decimal"
	"github.com/vignesh-goutham/hermes/pkg/types"
)

const (
	paperTradingBaseURL = "https://paper-api.alpaca.markets"
	liveTradingBaseURL  = "https://api.alpaca.markets"
)

// AlpacaProvider implements Provider against the Alpaca trading API
type AlpacaProvider struct {
	client alpaca.Client
}

// NewAlpacaProvider creates a provider using the given credentials
func NewAlpacaProvider(apiKey, secretKey string, paperTrading bool) *AlpacaProvider {
	baseURL := liveTradingBaseURL
	if paperTrading {
		baseURL = paperTradingBaseURL
	}

	client := alpaca.NewClient(alpaca.ClientOpts{
		ApiKey:    apiKey,
		ApiSecret: secretKey,
		BaseURL:   baseURL,
	})

	return &AlpacaProvider{client: client}
}

// OpenPosition returns the open quantity for symbol. Alpaca reports a
// missing position as an error, which maps to a flat (zero) position.
func (a *AlpacaProvider) OpenPosition(ctx context.Context, symbol string) (decimal.Decimal, error) {
	position, err := a.client.GetPosition(symbol)
	if err != nil {
		if strings.Contains(err.Error(), "position does not exist") {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}
	return position.Qty, nil
}

// PendingOrders returns all open orders awaiting fill
func (a *AlpacaProvider) PendingOrders(ctx context.Context) ([]PendingOrder, error) {
	status := "open"
	limit := 500
	nested := false

	orders, err := a.client.ListOrders(&status, nil, &limit, &nested)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	pending := make([]PendingOrder, 0, len(orders))
	for _, order := range orders {
		action := types.ActionBuy
		if order.Side == alpaca.Sell {
			action = types.ActionSell
		}

		qty := decimal.Zero
		if order.Qty != nil {
			qty = *order.Qty
		}

		pending = append(pending, PendingOrder{
			ID:       order.ID,
			Symbol:   order.Symbol,
			Action:   action,
			Quantity: qty,
			Status:   string(order.Status),
		})
	}
	return pending, nil
}
