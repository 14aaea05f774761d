// Package pipeline drives a paid upload from cost estimate to settled
// content: an upload is created against a quoted payment, the payment is
// confirmed on chain within a bounded polling window, chunks are accepted
// strictly in order, and completion hands the assembled file to the upload
// worker.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/payment"
	"github.com/permapay/permapay/pricing"
	"github.com/permapay/permapay/queue"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

// Service owns the upload state machine.
type Service struct {
	cfg       types.Config
	store     store.Store
	verifier  *payment.Verifier
	estimator *pricing.Estimator
	sink      ChunkSink
	uploads   queue.Queue
	log       logger.Logger
	metrics   metrics.Recorder
}

// NewService wires the upload pipeline.
func NewService(
	cfg types.Config,
	st store.Store,
	verifier *payment.Verifier,
	estimator *pricing.Estimator,
	sink ChunkSink,
	uploads queue.Queue,
	log logger.Logger,
	rec metrics.Recorder,
) *Service {
	return &Service{
		cfg:       cfg.Normalized(),
		store:     st,
		verifier:  verifier,
		estimator: estimator,
		sink:      sink,
		uploads:   uploads,
		log:       log,
		metrics:   rec,
	}
}

// CreateUpload quotes the storage cost, records the expected payment and
// opens the upload in its initial state. The quoted amounts are frozen on
// the payment record; a new estimate requires a new upload.
func (s *Service) CreateUpload(ctx context.Context, walletAddress string, req types.CreateUploadRequest) (types.UploadRequest, types.PaymentTransaction, error) {
	if err := req.Validate(); err != nil {
		return types.UploadRequest{}, types.PaymentTransaction{}, err
	}

	identity, err := s.store.Identities().FindByWallet(ctx, walletAddress)
	if err != nil {
		return types.UploadRequest{}, types.PaymentTransaction{}, err
	}

	estimate, err := s.estimator.Estimate(ctx, types.EstimateRequest{
		Size:      req.Size,
		Ticker:    req.Ticker,
		ChainType: identity.ChainType,
		ChainID:   req.ChainID,
		Network:   req.Network,
	})
	if err != nil {
		return types.UploadRequest{}, types.PaymentTransaction{}, err
	}

	now := time.Now()
	tx := types.PaymentTransaction{
		ID:               uuid.NewString(),
		UserWallet:       walletAddress,
		TokenID:          estimate.Token.ID,
		Amount:           estimate.Amount,
		AmountInSubUnits: estimate.AmountInSubUnits,
		Status:           types.TxPending,
		CreatedAt:        now,
	}
	if err := s.store.Payments().Create(ctx, tx); err != nil {
		return types.UploadRequest{}, types.PaymentTransaction{}, err
	}

	upload := types.UploadRequest{
		ID:                   uuid.NewString(),
		UserWallet:           walletAddress,
		PaymentTransactionID: tx.ID,
		FileName:             req.FileName,
		MimeType:             req.MimeType,
		Size:                 req.Size,
		Status:               types.UploadNotStarted,
		CurrentChunk:         -1,
		TotalChunks:          req.TotalChunks,
		Tags:                 req.Tags,
		CreatedAt:            now,
	}
	if err := s.store.Uploads().Create(ctx, upload); err != nil {
		return types.UploadRequest{}, types.PaymentTransaction{}, err
	}

	s.log.Info("upload created", map[string]any{
		"upload":  upload.ID,
		"wallet":  walletAddress,
		"payment": tx.ID,
		"amount":  tx.AmountInSubUnits,
	})
	s.metrics.IncCounter("upload_created", map[string]string{"chain_type": string(identity.ChainType)})
	return upload, tx, nil
}

// GetUpload returns the upload for status queries, owner-scoped.
func (s *Service) GetUpload(ctx context.Context, walletAddress, uploadID string) (types.UploadRequest, error) {
	upload, err := s.store.Uploads().Get(ctx, uploadID)
	if err != nil {
		return types.UploadRequest{}, err
	}
	if upload.UserWallet != walletAddress {
		return types.UploadRequest{}, types.ErrNotFound
	}
	return upload, nil
}

// SubmitPayment binds a transaction hash to the upload's expected payment
// and polls the chain until it confirms or is definitively rejected. On
// confirmation the payment is marked succeeded and the upload's unique
// receipt is issued; a repeated submission conflicts on the receipt.
func (s *Service) SubmitPayment(ctx context.Context, walletAddress string, req types.SubmitPaymentRequest) (types.Receipt, error) {
	if err := req.Validate(); err != nil {
		return types.Receipt{}, err
	}

	upload, err := s.GetUpload(ctx, walletAddress, req.UploadID)
	if err != nil {
		return types.Receipt{}, err
	}
	tx, err := s.store.Payments().Get(ctx, upload.PaymentTransactionID)
	if err != nil {
		return types.Receipt{}, err
	}
	if tx.Status == types.TxSucceeded {
		return types.Receipt{}, types.NewStateConflictError(
			"payment for upload %s is already confirmed", upload.ID)
	}

	if err := s.store.Payments().SetTransactionHash(ctx, tx.ID, req.TransactionHash); err != nil {
		return types.Receipt{}, err
	}

	if err := s.verifier.ConfirmWithPolling(ctx, tx, req.TransactionHash); err != nil {
		var pe *types.PaymentVerificationError
		if errors.As(err, &pe) && !pe.Retryable() {
			// Definitive rejection: the referenced transaction can never
			// satisfy this payment.
			if serr := s.store.Payments().SetStatus(ctx, tx.ID, types.TxFailed); serr != nil {
				s.log.Error("failed to mark payment failed", map[string]any{
					"payment": tx.ID, "error": serr.Error(),
				})
			}
		}
		return types.Receipt{}, err
	}

	if err := s.store.Payments().SetStatus(ctx, tx.ID, types.TxSucceeded); err != nil {
		return types.Receipt{}, err
	}

	receipt := types.Receipt{
		ID:         uuid.NewString(),
		UploadID:   upload.ID,
		TokenID:    tx.TokenID,
		UserWallet: walletAddress,
		Status:     types.ReceiptPaid,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Receipts().Create(ctx, receipt); err != nil {
		return types.Receipt{}, err
	}

	s.log.Info("payment confirmed", map[string]any{
		"upload":  upload.ID,
		"payment": tx.ID,
		"tx_hash": req.TransactionHash,
		"receipt": receipt.ID,
	})
	return receipt, nil
}

// IngestChunk accepts the next chunk of a paid upload. Chunks must arrive
// strictly in order: the incoming index must be exactly one past the last
// accepted index. Accepting the final chunk completes the upload and hands
// the assembled file to the upload worker.
func (s *Service) IngestChunk(ctx context.Context, walletAddress string, req types.UploadChunkRequest) (types.UploadRequest, error) {
	if err := req.Validate(); err != nil {
		return types.UploadRequest{}, err
	}

	upload, err := s.GetUpload(ctx, walletAddress, req.UploadID)
	if err != nil {
		return types.UploadRequest{}, err
	}
	if upload.Status == types.UploadCompleted {
		return types.UploadRequest{}, types.NewStateConflictError(
			"upload %s is already completed", upload.ID)
	}
	if req.TotalChunks != upload.TotalChunks {
		return types.UploadRequest{}, types.NewStateConflictError(
			"upload %s expects %d chunks, request says %d", upload.ID, upload.TotalChunks, req.TotalChunks)
	}

	tx, err := s.store.Payments().Get(ctx, upload.PaymentTransactionID)
	if err != nil {
		return types.UploadRequest{}, err
	}
	if tx.Status != types.TxSucceeded {
		return types.UploadRequest{}, types.NewStateConflictError(
			"payment for upload %s is not confirmed", upload.ID)
	}

	if req.CurrentChunk != upload.CurrentChunk+1 {
		return types.UploadRequest{}, types.NewStateConflictError(
			"upload %s expects chunk %d, got %d", upload.ID, upload.CurrentChunk+1, req.CurrentChunk)
	}

	// Staging is keyed by the chunk index. Concurrent duplicate submissions
	// can both pass the ordering check above; the loser of the AdvanceChunk
	// race below has then only overwritten the same index, never appended a
	// second copy.
	if err := s.sink.Append(ctx, upload.ID, req.CurrentChunk, req.Data); err != nil {
		return types.UploadRequest{}, err
	}

	status := types.UploadInProgress
	last := req.CurrentChunk == upload.TotalChunks-1
	if last {
		status = types.UploadCompleted
	}
	if err := s.store.Uploads().AdvanceChunk(ctx, upload.ID, upload.CurrentChunk, status); err != nil {
		return types.UploadRequest{}, err
	}

	if last {
		path, err := s.sink.Assemble(ctx, upload.ID, upload.TotalChunks)
		if err != nil {
			return types.UploadRequest{}, err
		}
		job := types.UploadJob{
			RequestID: upload.ID,
			FilePath:  path,
			Tags:      upload.Tags,
		}
		if err := s.uploads.Enqueue(ctx, job); err != nil {
			return types.UploadRequest{}, err
		}
		s.log.Info("upload assembled", map[string]any{
			"upload": upload.ID,
			"chunks": upload.TotalChunks,
		})
		s.metrics.IncCounter("upload_assembled", map[string]string{"chain_type": chainTypeOf(s.cfg, tx.TokenID)})
	}

	return s.store.Uploads().Get(ctx, upload.ID)
}

func chainTypeOf(cfg types.Config, tokenID string) string {
	token, err := cfg.TokenByID(tokenID)
	if err != nil {
		return "unknown"
	}
	return string(token.ChainType)
}
