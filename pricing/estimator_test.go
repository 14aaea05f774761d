package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

type staticConverter map[string]string

func (c staticConverter) PriceUSD(_ context.Context, ticker string) (decimal.Decimal, error) {
	price, ok := c[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote for %s", ticker)
	}
	return decimal.NewFromString(price)
}

func testConfig(gateway string) types.Config {
	return types.Config{
		Chains: map[types.ChainType]types.ChainConfig{
			types.ChainEVM: {
				Account:    types.ChainAccount{Address: "0xCustodial"},
				FeeAddress: "0xFee",
			},
		},
		Tokens: []types.Token{
			{
				ID:        "usdc-base",
				Ticker:    "USDC",
				ChainType: types.ChainEVM,
				ChainID:   "8453",
				Network:   types.NetworkMainnet,
				Address:   "0xToken",
				Decimals:  6,
			},
		},
		ArweaveGateway: gateway,
	}
}

func TestEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/price/1048576", r.URL.Path)
		// 0.002 AR
		io.WriteString(w, "2000000000")
	}))
	defer srv.Close()

	// 0.002 AR * $10 = $0.02 -> 0.02 USDC at $1.
	converter := staticConverter{"AR": "10", "USDC": "1"}
	estimator := NewEstimator(testConfig(srv.URL), converter)

	estimate, err := estimator.Estimate(context.Background(), types.EstimateRequest{
		Size:      1 << 20,
		Ticker:    "USDC",
		ChainType: types.ChainEVM,
		ChainID:   "8453",
		Network:   types.NetworkMainnet,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xCustodial", estimate.PayTo)
	assert.Equal(t, "usdc-base", estimate.Token.ID)
	assert.Equal(t, "0.02", estimate.CostUSD)
	assert.Equal(t, "0.02", estimate.Amount)
	assert.Equal(t, "20000", estimate.AmountInSubUnits)
}

func TestEstimateRejectsUnlistedToken(t *testing.T) {
	estimator := NewEstimator(testConfig("http://unused"), staticConverter{})

	_, err := estimator.Estimate(context.Background(), types.EstimateRequest{
		Size:      100,
		Ticker:    "DOGE",
		ChainType: types.ChainEVM,
		ChainID:   "8453",
		Network:   types.NetworkMainnet,
	})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestEstimateGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	estimator := NewEstimator(testConfig(srv.URL), staticConverter{"AR": "10", "USDC": "1"})
	_, err := estimator.Estimate(context.Background(), types.EstimateRequest{
		Size:      100,
		Ticker:    "USDC",
		ChainType: types.ChainEVM,
		ChainID:   "8453",
		Network:   types.NetworkMainnet,
	})
	require.Error(t, err)
}

func TestToSubUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		want     string
	}{
		{"0.02", 6, "20000"},
		{"1", 12, "1000000000000"},
		// Fractional subunits always round up.
		{"0.0000001", 6, "1"},
		{"0.0200001", 6, "20001"},
		{"0", 6, "0"},
	}
	for _, tt := range tests {
		amount, err := decimal.NewFromString(tt.amount)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ToSubUnits(amount, tt.decimals), "amount %s", tt.amount)
	}
}

func TestFromSubUnits(t *testing.T) {
	got, err := FromSubUnits("20000", 6)
	require.NoError(t, err)
	assert.Equal(t, "0.02", got)

	got, err = FromSubUnits("1000", 6)
	require.NoError(t, err)
	assert.Equal(t, "0.001", got)

	_, err = FromSubUnits("not-a-number", 6)
	require.Error(t, err)
}

func TestFeeShare(t *testing.T) {
	fee, err := FeeShare("20000", 5)
	require.NoError(t, err)
	assert.Equal(t, "1000", fee)

	// Fractional fees round up to whole subunits.
	fee, err = FeeShare("19999", 5)
	require.NoError(t, err)
	assert.Equal(t, "1000", fee)

	fee, err = FeeShare("1", 5)
	require.NoError(t, err)
	assert.Equal(t, "1", fee)

	fee, err = FeeShare("20000", 0)
	require.NoError(t, err)
	assert.Equal(t, "0", fee)

	_, err = FeeShare("not-a-number", 5)
	require.Error(t, err)

	_, err = FeeShare("20000", 101)
	require.Error(t, err)
}

func TestCoinMarketCapPriceUSD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, "AR", r.URL.Query().Get("symbol"))
		io.WriteString(w, `{"data":{"AR":[{"quote":{"USD":{"price":9.87}}}]}}`)
	}))
	defer srv.Close()

	cmc := NewCoinMarketCap(types.PriceFeedConfig{APIKey: "test-key", BaseURL: srv.URL}, 0)
	price, err := cmc.PriceUSD(context.Background(), "ar")
	require.NoError(t, err)
	assert.Equal(t, "9.87", price.String())
}

func TestCoinMarketCapMissingQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	cmc := NewCoinMarketCap(types.PriceFeedConfig{BaseURL: srv.URL}, 0)
	_, err := cmc.PriceUSD(context.Background(), "XYZ")
	require.Error(t, err)
}
