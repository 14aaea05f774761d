package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

func TestIdentityLifecycle(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	identity, err := st.Identities().FindOrCreate(ctx, "0xabc", types.ChainEVM, "8453")
	require.NoError(t, err)
	assert.Equal(t, types.ChainEVM, identity.ChainType)
	assert.Equal(t, "user", identity.Role)

	// FindOrCreate never changes an existing identity's chain coordinates.
	again, err := st.Identities().FindOrCreate(ctx, "0xabc", types.ChainSolana, "devnet")
	require.NoError(t, err)
	assert.Equal(t, identity.ID, again.ID)
	assert.Equal(t, types.ChainEVM, again.ChainType)

	require.NoError(t, st.Identities().SetNonce(ctx, "0xabc", "nonce1"))
	got, err := st.Identities().FindByWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "nonce1", got.Nonce)

	require.NoError(t, st.Identities().ClearNonce(ctx, "0xabc"))
	got, err = st.Identities().FindByWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, got.Nonce)

	_, err = st.Identities().FindByWallet(ctx, "0xmissing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUploadAdvanceChunk(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	upload := types.UploadRequest{
		ID:           "up1",
		Status:       types.UploadNotStarted,
		CurrentChunk: -1,
		TotalChunks:  3,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.Uploads().Create(ctx, upload))

	require.NoError(t, st.Uploads().AdvanceChunk(ctx, "up1", -1, types.UploadInProgress))
	got, err := st.Uploads().Get(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentChunk)
	assert.Equal(t, types.UploadInProgress, got.Status)

	// A stale expected index means another writer got there first.
	err = st.Uploads().AdvanceChunk(ctx, "up1", -1, types.UploadInProgress)
	var conflict *types.StateConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, st.Uploads().AdvanceChunk(ctx, "up1", 0, types.UploadInProgress))
	require.NoError(t, st.Uploads().AdvanceChunk(ctx, "up1", 1, types.UploadCompleted))
	got, err = st.Uploads().Get(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentChunk)
	assert.Equal(t, types.UploadCompleted, got.Status)
}

func TestReceiptUniquePerUpload(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.Receipts().Create(ctx, types.Receipt{ID: "r1", UploadID: "up1", Status: types.ReceiptPaid}))

	err := st.Receipts().Create(ctx, types.Receipt{ID: "r2", UploadID: "up1", Status: types.ReceiptPaid})
	var conflict *types.StateConflictError
	require.ErrorAs(t, err, &conflict)

	got, err := st.Receipts().GetByUpload(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	require.NoError(t, st.Receipts().SetStatus(ctx, "up1", types.ReceiptCompleted))
	got, err = st.Receipts().GetByUpload(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptCompleted, got.Status)
}

func TestFeeUniquePerUpload(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	require.NoError(t, st.Fees().Create(ctx, types.FeeTransaction{ID: "f1", UploadID: "up1", Status: types.TxPending}))

	err := st.Fees().Create(ctx, types.FeeTransaction{ID: "f2", UploadID: "up1", Status: types.TxPending})
	var conflict *types.StateConflictError
	require.ErrorAs(t, err, &conflict)

	got, err := st.Fees().GetByUpload(ctx, "up1")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.ID)

	require.NoError(t, st.Fees().MarkSucceeded(ctx, "f1", "0xhash"))
	got, err = st.Fees().Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.TxSucceeded, got.Status)
	assert.Equal(t, "0xhash", got.TransactionHash)
}

func TestPaymentStore(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	tx := types.PaymentTransaction{ID: "p1", Status: types.TxPending, AmountInSubUnits: "20000"}
	require.NoError(t, st.Payments().Create(ctx, tx))

	var conflict *types.StateConflictError
	require.ErrorAs(t, st.Payments().Create(ctx, tx), &conflict)

	require.NoError(t, st.Payments().SetTransactionHash(ctx, "p1", "0xhash"))
	require.NoError(t, st.Payments().SetStatus(ctx, "p1", types.TxSucceeded))

	got, err := st.Payments().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "0xhash", got.TransactionHash)
	assert.Equal(t, types.TxSucceeded, got.Status)
}
