// Package store defines the key-indexed record store the engine persists
// through. Relational mechanics live outside this module; the engine treats
// the store as the single source of truth and never caches across
// operations.
package store

import (
	"context"

	"github.com/permapay/permapay/types"
)

// IdentityStore persists wallet identities and their nonce lifecycle.
type IdentityStore interface {
	// FindOrCreate returns the identity for a wallet address, creating it
	// with the given chain coordinates on first contact. The chain type of
	// an existing identity is never changed.
	FindOrCreate(ctx context.Context, walletAddress string, chainType types.ChainType, chainID string) (types.Identity, error)
	FindByWallet(ctx context.Context, walletAddress string) (types.Identity, error)
	// SetNonce overwrites any prior unconsumed nonce together with its
	// issuance timestamp.
	SetNonce(ctx context.Context, walletAddress, nonce string) error
	ClearNonce(ctx context.Context, walletAddress string) error
	SetLastSignature(ctx context.Context, walletAddress, signature string) error
}

// PaymentStore persists payment transactions.
type PaymentStore interface {
	Create(ctx context.Context, tx types.PaymentTransaction) error
	Get(ctx context.Context, id string) (types.PaymentTransaction, error)
	SetStatus(ctx context.Context, id string, status types.TransactionStatus) error
	SetTransactionHash(ctx context.Context, id, hash string) error
}

// UploadStore persists upload requests.
type UploadStore interface {
	Create(ctx context.Context, u types.UploadRequest) error
	Get(ctx context.Context, id string) (types.UploadRequest, error)
	// AdvanceChunk records acceptance of chunk index current+1 and the
	// accompanying status change atomically. It fails with a conflict if
	// the stored current chunk moved in the meantime.
	AdvanceChunk(ctx context.Context, id string, fromChunk int, status types.UploadStatus) error
	SetStatus(ctx context.Context, id string, status types.UploadStatus) error
	SetContentID(ctx context.Context, id, contentID string) error
}

// ReceiptStore persists receipts with a uniqueness guarantee per upload.
type ReceiptStore interface {
	// Create fails with a StateConflictError when a receipt already exists
	// for the upload.
	Create(ctx context.Context, r types.Receipt) error
	GetByUpload(ctx context.Context, uploadID string) (types.Receipt, error)
	SetStatus(ctx context.Context, uploadID string, status types.ReceiptStatus) error
}

// FeeStore persists fee transactions.
type FeeStore interface {
	// Create fails with a StateConflictError when a fee transaction already
	// exists for the upload.
	Create(ctx context.Context, f types.FeeTransaction) error
	Get(ctx context.Context, id string) (types.FeeTransaction, error)
	GetByUpload(ctx context.Context, uploadID string) (types.FeeTransaction, error)
	// MarkSucceeded records the settlement hash and flips the status.
	MarkSucceeded(ctx context.Context, id, txHash string) error
}

// Store bundles the per-entity stores a deployment provides.
type Store interface {
	Identities() IdentityStore
	Payments() PaymentStore
	Uploads() UploadStore
	Receipts() ReceiptStore
	Fees() FeeStore
}
