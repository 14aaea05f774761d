// Package pricing turns a byte count into a token amount: permanent-storage
// cost in winston from the gateway, converted to USD and then into the
// payment token at current market prices. All conversions round up so the
// quoted amount always covers the storage cost.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/permapay/permapay/types"
)

// Converter resolves the USD price of a token ticker.
type Converter interface {
	PriceUSD(ctx context.Context, ticker string) (decimal.Decimal, error)
}

const defaultCMCBaseURL = "https://pro-api.coinmarketcap.com"

// CoinMarketCap is a Converter backed by the CoinMarketCap quotes API.
type CoinMarketCap struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewCoinMarketCap builds the converter from the price-feed configuration.
func NewCoinMarketCap(cfg types.PriceFeedConfig, timeout time.Duration) *CoinMarketCap {
	base := cfg.BaseURL
	if base == "" {
		base = defaultCMCBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CoinMarketCap{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type cmcQuoteResponse struct {
	Data map[string][]struct {
		Quote struct {
			USD struct {
				Price float64 `json:"price"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

// PriceUSD fetches the latest USD quote for a ticker.
func (c *CoinMarketCap) PriceUSD(ctx context.Context, ticker string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(ticker)
	endpoint := c.baseURL + "/v2/cryptocurrency/quotes/latest?symbol=" + url.QueryEscape(symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("fetching quote for %s: price feed returned %d: %s", symbol, resp.StatusCode, body)
	}

	var out cmcQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decoding quote for %s: %w", symbol, err)
	}
	quotes, ok := out.Data[symbol]
	if !ok || len(quotes) == 0 {
		return decimal.Zero, fmt.Errorf("no quote available for %s", symbol)
	}
	price := decimal.NewFromFloat(quotes[0].Quote.USD.Price)
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("price feed returned a non-positive price for %s", symbol)
	}
	return price, nil
}
