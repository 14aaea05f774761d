package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/pricing"
	"github.com/permapay/permapay/queue"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

// UploadWorker ships assembled files to the storage network and, once a
// file has landed, closes the receipt and schedules the fee sweep.
type UploadWorker struct {
	cfg      types.Config
	store    store.Store
	uploader Uploader
	sink     ChunkSink
	uploads  queue.Queue
	fees     queue.Queue
	log      logger.Logger
	metrics  metrics.Recorder
}

// NewUploadWorker wires the background upload worker.
func NewUploadWorker(
	cfg types.Config,
	st store.Store,
	uploader Uploader,
	sink ChunkSink,
	uploads queue.Queue,
	fees queue.Queue,
	log logger.Logger,
	rec metrics.Recorder,
) *UploadWorker {
	return &UploadWorker{
		cfg:      cfg.Normalized(),
		store:    st,
		uploader: uploader,
		sink:     sink,
		uploads:  uploads,
		fees:     fees,
		log:      log,
		metrics:  rec,
	}
}

// Run consumes upload jobs until the context is cancelled.
func (w *UploadWorker) Run(ctx context.Context) error {
	return w.uploads.Run(ctx, func(ctx context.Context, payload []byte) error {
		var job types.UploadJob
		if err := json.Unmarshal(payload, &job); err != nil {
			w.log.Error("malformed upload job", map[string]any{"error": err.Error()})
			return nil
		}
		return w.Process(ctx, job)
	})
}

// Process handles one upload job. Redelivery after a partial failure is
// safe: a content id that is already recorded short-circuits the upload.
func (w *UploadWorker) Process(ctx context.Context, job types.UploadJob) error {
	upload, err := w.store.Uploads().Get(ctx, job.RequestID)
	if err != nil {
		return err
	}

	if upload.ContentID == "" {
		start := time.Now()
		contentID, err := w.uploader.Upload(ctx, job.FilePath, job.Tags)
		if err != nil {
			w.log.Error("upload to storage network failed", map[string]any{
				"upload": upload.ID,
				"error":  err.Error(),
			})
			return err
		}
		if err := w.store.Uploads().SetContentID(ctx, upload.ID, contentID); err != nil {
			return err
		}
		w.metrics.ObserveLatency("store_content", time.Since(start), nil)
		w.log.Info("content stored", map[string]any{
			"upload":  upload.ID,
			"content": contentID,
		})
	}

	if err := w.store.Receipts().SetStatus(ctx, upload.ID, types.ReceiptCompleted); err != nil {
		return err
	}
	if err := w.scheduleFee(ctx, upload); err != nil {
		return err
	}

	if err := w.sink.Remove(ctx, upload.ID); err != nil {
		w.log.Warn("staging file cleanup failed", map[string]any{
			"upload": upload.ID,
			"error":  err.Error(),
		})
	}
	return nil
}

// scheduleFee derives the fee transaction from the upload's payment and
// enqueues it for settlement. A fee record that already exists means a
// prior delivery got this far; the job is then only re-enqueued.
func (w *UploadWorker) scheduleFee(ctx context.Context, upload types.UploadRequest) error {
	if existing, err := w.store.Fees().GetByUpload(ctx, upload.ID); err == nil {
		return w.fees.Enqueue(ctx, types.FeeJob{UploadID: upload.ID, FeeRecordID: existing.ID})
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	tx, err := w.store.Payments().Get(ctx, upload.PaymentTransactionID)
	if err != nil {
		return err
	}
	feeSubUnits, err := pricing.FeeShare(tx.AmountInSubUnits, w.cfg.Fee.Percent)
	if err != nil {
		return err
	}
	token, err := w.cfg.TokenByID(tx.TokenID)
	if err != nil {
		return err
	}
	feeAmount, err := pricing.FromSubUnits(feeSubUnits, token.Decimals)
	if err != nil {
		return err
	}

	fee := types.FeeTransaction{
		ID:               uuid.NewString(),
		UploadID:         upload.ID,
		Amount:           feeAmount,
		AmountInSubUnits: feeSubUnits,
		Status:           types.TxPending,
		CreatedAt:        time.Now(),
	}
	if err := w.store.Fees().Create(ctx, fee); err != nil {
		return err
	}

	job := types.FeeJob{UploadID: upload.ID, FeeRecordID: fee.ID}
	if err := w.fees.Enqueue(ctx, job); err != nil {
		return err
	}
	w.log.Info("fee scheduled", map[string]any{
		"upload": upload.ID,
		"fee":    fee.ID,
		"amount": feeSubUnits,
	})
	return nil
}
