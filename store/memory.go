package store

import (
	"context"
	"sync"
	"time"

	"github.com/permapay/permapay/types"
)

// NewMemory builds an in-memory store suitable for tests and single-process
// deployments.
func NewMemory() Store {
	return &memoryStore{
		identities: &memoryIdentities{byWallet: make(map[string]*types.Identity)},
		payments:   &memoryPayments{byID: make(map[string]*types.PaymentTransaction)},
		uploads:    &memoryUploads{byID: make(map[string]*types.UploadRequest)},
		receipts:   &memoryReceipts{byUpload: make(map[string]*types.Receipt)},
		fees:       &memoryFees{byID: make(map[string]*types.FeeTransaction)},
	}
}

type memoryStore struct {
	identities *memoryIdentities
	payments   *memoryPayments
	uploads    *memoryUploads
	receipts   *memoryReceipts
	fees       *memoryFees
}

func (m *memoryStore) Identities() IdentityStore { return m.identities }
func (m *memoryStore) Payments() PaymentStore    { return m.payments }
func (m *memoryStore) Uploads() UploadStore      { return m.uploads }
func (m *memoryStore) Receipts() ReceiptStore    { return m.receipts }
func (m *memoryStore) Fees() FeeStore            { return m.fees }

type memoryIdentities struct {
	mu       sync.Mutex
	nextID   int64
	byWallet map[string]*types.Identity
}

func (s *memoryIdentities) FindOrCreate(_ context.Context, wallet string, ct types.ChainType, chainID string) (types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byWallet[wallet]; ok {
		return *id, nil
	}
	s.nextID++
	id := &types.Identity{
		ID:            s.nextID,
		WalletAddress: wallet,
		ChainType:     ct,
		ChainID:       chainID,
		Role:          "user",
	}
	s.byWallet[wallet] = id
	return *id, nil
}

func (s *memoryIdentities) FindByWallet(_ context.Context, wallet string) (types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return types.Identity{}, types.ErrNotFound
	}
	return *id, nil
}

func (s *memoryIdentities) SetNonce(_ context.Context, wallet, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return types.ErrNotFound
	}
	id.Nonce = nonce
	id.NonceIssuedAt = time.Now()
	return nil
}

func (s *memoryIdentities) ClearNonce(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return types.ErrNotFound
	}
	id.Nonce = ""
	return nil
}

func (s *memoryIdentities) SetLastSignature(_ context.Context, wallet, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return types.ErrNotFound
	}
	id.LastSignature = sig
	return nil
}

type memoryPayments struct {
	mu   sync.Mutex
	byID map[string]*types.PaymentTransaction
}

func (s *memoryPayments) Create(_ context.Context, tx types.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.ID]; ok {
		return types.NewStateConflictError("payment transaction %s already exists", tx.ID)
	}
	s.byID[tx.ID] = &tx
	return nil
}

func (s *memoryPayments) Get(_ context.Context, id string) (types.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return types.PaymentTransaction{}, types.ErrNotFound
	}
	return *tx, nil
}

func (s *memoryPayments) SetStatus(_ context.Context, id string, status types.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	tx.Status = status
	return nil
}

func (s *memoryPayments) SetTransactionHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	tx.TransactionHash = hash
	return nil
}

type memoryUploads struct {
	mu   sync.Mutex
	byID map[string]*types.UploadRequest
}

func (s *memoryUploads) Create(_ context.Context, u types.UploadRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; ok {
		return types.NewStateConflictError("upload request %s already exists", u.ID)
	}
	s.byID[u.ID] = &u
	return nil
}

func (s *memoryUploads) Get(_ context.Context, id string) (types.UploadRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return types.UploadRequest{}, types.ErrNotFound
	}
	return *u, nil
}

func (s *memoryUploads) AdvanceChunk(_ context.Context, id string, fromChunk int, status types.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	if u.CurrentChunk != fromChunk {
		return types.NewStateConflictError(
			"upload %s advanced concurrently: chunk is %d, expected %d", id, u.CurrentChunk, fromChunk)
	}
	u.CurrentChunk = fromChunk + 1
	u.Status = status
	return nil
}

func (s *memoryUploads) SetStatus(_ context.Context, id string, status types.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	u.Status = status
	return nil
}

func (s *memoryUploads) SetContentID(_ context.Context, id, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	u.ContentID = contentID
	return nil
}

type memoryReceipts struct {
	mu       sync.Mutex
	byUpload map[string]*types.Receipt
}

func (s *memoryReceipts) Create(_ context.Context, r types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUpload[r.UploadID]; ok {
		return types.NewStateConflictError("receipt already exists for upload %s", r.UploadID)
	}
	s.byUpload[r.UploadID] = &r
	return nil
}

func (s *memoryReceipts) GetByUpload(_ context.Context, uploadID string) (types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byUpload[uploadID]
	if !ok {
		return types.Receipt{}, types.ErrNotFound
	}
	return *r, nil
}

func (s *memoryReceipts) SetStatus(_ context.Context, uploadID string, status types.ReceiptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byUpload[uploadID]
	if !ok {
		return types.ErrNotFound
	}
	r.Status = status
	return nil
}

type memoryFees struct {
	mu   sync.Mutex
	byID map[string]*types.FeeTransaction
}

func (s *memoryFees) Create(_ context.Context, f types.FeeTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[f.ID]; ok {
		return types.NewStateConflictError("fee transaction %s already exists", f.ID)
	}
	for _, existing := range s.byID {
		if existing.UploadID == f.UploadID {
			return types.NewStateConflictError("fee transaction already exists for upload %s", f.UploadID)
		}
	}
	s.byID[f.ID] = &f
	return nil
}

func (s *memoryFees) GetByUpload(_ context.Context, uploadID string) (types.FeeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.byID {
		if f.UploadID == uploadID {
			return *f, nil
		}
	}
	return types.FeeTransaction{}, types.ErrNotFound
}

func (s *memoryFees) Get(_ context.Context, id string) (types.FeeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return types.FeeTransaction{}, types.ErrNotFound
	}
	return *f, nil
}

func (s *memoryFees) MarkSucceeded(_ context.Context, id, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byID[id]
	if !ok {
		return types.ErrNotFound
	}
	f.Status = types.TxSucceeded
	f.TransactionHash = txHash
	return nil
}
