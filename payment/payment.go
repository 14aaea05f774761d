// Package payment confirms that an expected payment actually happened on
// chain. The referenced transaction must transfer exactly the expected
// amount of the expected token from the payer to the custodial account;
// anything else is a typed rejection.
package payment

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/types"
)

// Verifier checks expected payments against chain state.
type Verifier struct {
	cfg      types.Config
	registry *chains.Registry
	log      logger.Logger
	metrics  metrics.Recorder
}

// NewVerifier wires the payment verifier.
func NewVerifier(cfg types.Config, registry *chains.Registry, log logger.Logger, rec metrics.Recorder) *Verifier {
	return &Verifier{cfg: cfg.Normalized(), registry: registry, log: log, metrics: rec}
}

// Confirm checks the referenced transaction once against the expected
// payment. The payer must be the sender, the custodial account the
// recipient and the amount must match to the subunit.
func (v *Verifier) Confirm(ctx context.Context, tx types.PaymentTransaction, txHash string) error {
	token, err := v.cfg.TokenByID(tx.TokenID)
	if err != nil {
		return err
	}
	chain, err := v.cfg.Chain(token.ChainType)
	if err != nil {
		return err
	}
	adapter, err := v.registry.Get(token.ChainType)
	if err != nil {
		return err
	}

	return adapter.VerifyPayment(ctx, chains.PaymentQuery{
		ChainID:   token.ChainID,
		TxRef:     txHash,
		Sender:    tx.UserWallet,
		Recipient: chain.Account.Address,
		Amount:    tx.AmountInSubUnits,
		Token:     token,
	})
}

// ConfirmWithPolling polls Confirm until the payment is confirmed, a
// definitive rejection occurs or the bounded attempt budget runs out. Only
// not-yet-found results and infrastructure errors are retried.
func (v *Verifier) ConfirmWithPolling(ctx context.Context, tx types.PaymentTransaction, txHash string) error {
	poll := v.cfg.Poll
	backoff := retry.WithMaxRetries(poll.Attempts, retry.NewConstant(poll.Delay))

	start := time.Now()
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := v.Confirm(ctx, tx, txHash)
		if err == nil {
			return nil
		}
		if types.IsRetryablePayment(err) {
			v.log.Debug("payment not confirmed yet", map[string]any{
				"payment": tx.ID,
				"tx_hash": txHash,
				"error":   err.Error(),
			})
			return retry.RetryableError(err)
		}
		return err
	})

	labels := map[string]string{"chain_type": chainTypeLabel(v.cfg, tx.TokenID)}
	v.metrics.ObserveLatency("confirm_payment", time.Since(start), labels)
	if err != nil {
		v.metrics.IncCounter("payment_rejected", labels)
		return err
	}
	v.metrics.IncCounter("payment_confirmed", labels)
	return nil
}

func chainTypeLabel(cfg types.Config, tokenID string) string {
	token, err := cfg.TokenByID(tokenID)
	if err != nil {
		return "unknown"
	}
	return string(token.ChainType)
}
