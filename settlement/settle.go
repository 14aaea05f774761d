// Package settlement sweeps the platform fee share of confirmed payments
// from the custodial wallets to the fee-collection addresses. Jobs arrive
// from the upload worker; the fee record's status makes processing
// idempotent across redeliveries.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/queue"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

// Worker settles fee transactions.
type Worker struct {
	cfg      types.Config
	store    store.Store
	registry *chains.Registry
	fees     queue.Queue
	log      logger.Logger
	metrics  metrics.Recorder

	// One settlement at a time per chain type: custodial account nonces and
	// anchors must not race.
	mu    sync.Mutex
	locks map[types.ChainType]*sync.Mutex
}

// NewWorker wires the fee settlement worker.
func NewWorker(cfg types.Config, st store.Store, registry *chains.Registry, fees queue.Queue, log logger.Logger, rec metrics.Recorder) *Worker {
	return &Worker{
		cfg:      cfg.Normalized(),
		store:    st,
		registry: registry,
		fees:     fees,
		log:      log,
		metrics:  rec,
		locks:    make(map[types.ChainType]*sync.Mutex),
	}
}

// Run consumes fee jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.fees.Run(ctx, func(ctx context.Context, payload []byte) error {
		var job types.FeeJob
		if err := json.Unmarshal(payload, &job); err != nil {
			w.log.Error("malformed fee job", map[string]any{"error": err.Error()})
			return nil
		}
		return w.Process(ctx, job)
	})
}

// Process settles one fee transaction. A fee that already succeeded is
// skipped; a chain family without fee settlement leaves the record pending
// and reports the gap instead of pretending success.
func (w *Worker) Process(ctx context.Context, job types.FeeJob) error {
	fee, err := w.store.Fees().Get(ctx, job.FeeRecordID)
	if err != nil {
		return err
	}
	if fee.Status == types.TxSucceeded {
		return nil
	}

	upload, err := w.store.Uploads().Get(ctx, job.UploadID)
	if err != nil {
		return err
	}
	tx, err := w.store.Payments().Get(ctx, upload.PaymentTransactionID)
	if err != nil {
		return err
	}
	token, err := w.cfg.TokenByID(tx.TokenID)
	if err != nil {
		return err
	}
	chain, err := w.cfg.Chain(token.ChainType)
	if err != nil {
		return err
	}
	adapter, err := w.registry.Get(token.ChainType)
	if err != nil {
		return err
	}

	lock := w.chainLock(token.ChainType)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	hash, err := adapter.SettleFee(ctx, chains.FeeTransfer{
		Token:            token,
		AmountInSubUnits: fee.AmountInSubUnits,
		Account:          chain.Account,
		FeeAddress:       chain.FeeAddress,
	})
	labels := map[string]string{"chain_type": string(token.ChainType)}
	if err != nil {
		var ue *types.UnimplementedOperationError
		if errors.As(err, &ue) {
			// Not retryable: the record stays pending for an operator.
			w.log.Error("fee settlement unavailable", map[string]any{
				"fee":        fee.ID,
				"upload":     upload.ID,
				"chain_type": token.ChainType,
				"error":      err.Error(),
			})
			w.metrics.IncCounter("fee_settlement_unavailable", labels)
			return nil
		}
		w.log.Error("fee settlement failed", map[string]any{
			"fee":    fee.ID,
			"upload": upload.ID,
			"error":  err.Error(),
		})
		w.metrics.IncCounter("fee_settlement_failed", labels)
		return err
	}

	if err := w.store.Fees().MarkSucceeded(ctx, fee.ID, hash); err != nil {
		return err
	}

	w.log.Info("fee settled", map[string]any{
		"fee":     fee.ID,
		"upload":  upload.ID,
		"amount":  fee.AmountInSubUnits,
		"tx_hash": hash,
	})
	w.metrics.IncCounter("fee_settled", labels)
	w.metrics.ObserveLatency("settle_fee", time.Since(start), labels)
	return nil
}

func (w *Worker) chainLock(ct types.ChainType) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[ct]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[ct] = lock
	}
	return lock
}
