package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/permapay/permapay/types"
)

// winstonPerAR is the subunit scale of the storage network's native token.
var winstonPerAR = decimal.New(1, 12)

const storageTicker = "AR"

// Estimate is a storage-cost quote in a specific payment token.
type Estimate struct {
	Token            types.Token `json:"token"`
	CostUSD          string      `json:"costUsd"`
	Amount           string      `json:"amount"`
	AmountInSubUnits string      `json:"amountInSubUnits"`
	PayTo            string      `json:"payTo"`
}

// Estimator quotes the cost of storing a blob in any whitelisted token.
type Estimator struct {
	cfg       types.Config
	converter Converter
	gateway   string
	http      *http.Client
}

// NewEstimator builds an estimator over the configured token whitelist.
func NewEstimator(cfg types.Config, converter Converter) *Estimator {
	cfg = cfg.Normalized()
	return &Estimator{
		cfg:       cfg,
		converter: converter,
		gateway:   strings.TrimRight(cfg.ArweaveGateway, "/"),
		http:      &http.Client{Timeout: cfg.DefaultTimeout},
	}
}

// Estimate prices a storage request. The token must be whitelisted and the
// target chain type must have a custodial account to receive the payment.
func (e *Estimator) Estimate(ctx context.Context, req types.EstimateRequest) (Estimate, error) {
	if err := req.Validate(); err != nil {
		return Estimate{}, err
	}
	token, err := e.cfg.FindToken(req.ChainType, req.Ticker, req.ChainID, req.Network)
	if err != nil {
		return Estimate{}, err
	}
	chain, err := e.cfg.Chain(req.ChainType)
	if err != nil {
		return Estimate{}, err
	}
	if chain.Account.Address == "" {
		return Estimate{}, types.NewConfigurationError(
			"no custodial account configured for chain type %s", req.ChainType)
	}

	winston, err := e.storagePrice(ctx, req.Size)
	if err != nil {
		return Estimate{}, err
	}

	costUSD, amount, err := e.convert(ctx, winston, token)
	if err != nil {
		return Estimate{}, err
	}

	return Estimate{
		Token:            token,
		CostUSD:          costUSD.String(),
		Amount:           amount.String(),
		AmountInSubUnits: ToSubUnits(amount, token.Decimals),
		PayTo:            chain.Account.Address,
	}, nil
}

// storagePrice asks the gateway what size bytes cost, in winston.
func (e *Estimator) storagePrice(ctx context.Context, size int64) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/price/%d", e.gateway, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching storage price: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetching storage price: gateway returned %d: %s", resp.StatusCode, body)
	}
	winston, err := decimal.NewFromString(strings.TrimSpace(string(body)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decoding storage price %q: %w", body, err)
	}
	return winston, nil
}

// convert turns a winston cost into a USD cost and an amount of the payment
// token.
func (e *Estimator) convert(ctx context.Context, winston decimal.Decimal, token types.Token) (decimal.Decimal, decimal.Decimal, error) {
	arUSD, err := e.converter.PriceUSD(ctx, storageTicker)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	tokenUSD, err := e.converter.PriceUSD(ctx, token.Ticker)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	costUSD := winston.Div(winstonPerAR).Mul(arUSD)
	return costUSD, costUSD.DivRound(tokenUSD, int32(decimal.DivisionPrecision)), nil
}

// ToSubUnits converts a human token amount into whole subunits, rounding up
// so a quoted amount is never underpaid.
func ToSubUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(decimals).Ceil().String()
}

// FromSubUnits renders a subunit amount as a human token amount.
func FromSubUnits(amountInSubUnits string, decimals int32) (string, error) {
	amount, err := decimal.NewFromString(amountInSubUnits)
	if err != nil {
		return "", types.NewConfigurationError("invalid amount %q", amountInSubUnits)
	}
	return amount.Shift(-decimals).String(), nil
}

// FeeShare computes the fee portion of a payment in subunits, rounded up to
// whole subunits.
func FeeShare(amountInSubUnits string, percent int64) (string, error) {
	amount, err := decimal.NewFromString(amountInSubUnits)
	if err != nil {
		return "", types.NewConfigurationError("invalid payment amount %q", amountInSubUnits)
	}
	if percent < 0 || percent > 100 {
		return "", types.NewConfigurationError("fee percent %d is out of range", percent)
	}
	fee := amount.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).Ceil()
	return fee.String(), nil
}
