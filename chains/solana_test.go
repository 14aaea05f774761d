package chains

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

func TestSolanaVerifySignature(t *testing.T) {
	wallet := solana.NewWallet()
	adapter := NewSolana(types.ChainConfig{})

	message := "Sign in to the storage gateway\nNonce: deadbeef"
	sig, err := wallet.PrivateKey.Sign([]byte(message))
	require.NoError(t, err)
	signature := base64.StdEncoding.EncodeToString(sig[:])

	identity := types.Identity{
		WalletAddress: wallet.PublicKey().String(),
		ChainType:     types.ChainSolana,
		Nonce:         "deadbeef",
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, adapter.VerifySignature(context.Background(), identity, message, signature, ""))
	})

	t.Run("tampered signature", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(signature)
		raw[3] ^= 0xff
		err := adapter.VerifySignature(context.Background(), identity, message, base64.StdEncoding.EncodeToString(raw), "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, types.ReasonSignatureInvalid, authErr.Reason)
	})

	t.Run("wrong wallet", func(t *testing.T) {
		other := identity
		other.WalletAddress = solana.NewWallet().PublicKey().String()
		err := adapter.VerifySignature(context.Background(), other, message, signature, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("wrong length", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize-1))
		err := adapter.VerifySignature(context.Background(), identity, message, short, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		stale := identity
		stale.Nonce = "cafebabe"
		err := adapter.VerifySignature(context.Background(), stale, message, signature, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, types.ReasonNonceMismatch, authErr.Reason)
	})
}

func buildTransferTx(t *testing.T, from *solana.Wallet, to solana.PublicKey, lamports uint64) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from.PublicKey(), to).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(from.PublicKey()),
	)
	require.NoError(t, err)
	return tx
}

func TestMatchSystemTransfer(t *testing.T) {
	from := solana.NewWallet()
	to := solana.NewWallet().PublicKey()
	const lamports = uint64(5_000_000)

	tx := buildTransferTx(t, from, to, lamports)

	t.Run("exact match", func(t *testing.T) {
		ok, err := matchSystemTransfer(tx, from.PublicKey(), to, lamports)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong amount", func(t *testing.T) {
		ok, err := matchSystemTransfer(tx, from.PublicKey(), to, lamports-1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong recipient", func(t *testing.T) {
		ok, err := matchSystemTransfer(tx, from.PublicKey(), solana.NewWallet().PublicKey(), lamports)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong sender", func(t *testing.T) {
		ok, err := matchSystemTransfer(tx, solana.NewWallet().PublicKey(), to, lamports)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestSolanaSettleFeeUnimplemented(t *testing.T) {
	adapter := NewSolana(types.ChainConfig{})
	_, err := adapter.SettleFee(context.Background(), FeeTransfer{})

	var ue *types.UnimplementedOperationError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, types.ChainSolana, ue.ChainType)
	assert.False(t, types.IsRetryablePayment(err))
}
