package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

// nonceAdapter verifies only the embedded nonce; signatures are accepted
// unless they equal "bad".
type nonceAdapter struct {
	chainType types.ChainType
}

func (a nonceAdapter) ChainType() types.ChainType { return a.chainType }

func (a nonceAdapter) VerifySignature(_ context.Context, identity types.Identity, signedMessage, signature, _ string) error {
	if signature == "bad" {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid, "bad signature")
	}
	nonce := chains.ExtractNonce(signedMessage)
	if nonce == "" || nonce != identity.Nonce {
		return types.NewAuthenticationError(types.ReasonNonceMismatch, "nonce missing or mismatch")
	}
	return nil
}

func (nonceAdapter) VerifyPayment(context.Context, chains.PaymentQuery) error { return nil }
func (nonceAdapter) SettleFee(context.Context, chains.FeeTransfer) (string, error) {
	return "", nil
}
func (nonceAdapter) Close() {}

func newTestService(t *testing.T) (*Service, store.IdentityStore) {
	t.Helper()
	st := store.NewMemory()
	issuer, err := NewTokenIssuer(types.AuthConfig{JWTSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: time.Hour})
	require.NoError(t, err)
	registry := chains.NewRegistry(nonceAdapter{chainType: types.ChainEVM})
	svc := NewService(st.Identities(), registry, issuer, logger.NoopLogger{}, metrics.NoopRecorder{})
	return svc, st.Identities()
}

func TestGenerateNonce(t *testing.T) {
	svc, identities := newTestService(t)
	ctx := context.Background()

	nonce, err := svc.GenerateNonce(ctx, "0xabc", types.ChainEVM, "84532")
	require.NoError(t, err)
	assert.Len(t, nonce, 32) // 16 random bytes, hex encoded

	identity, err := identities.FindByWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, nonce, identity.Nonce)
	assert.False(t, identity.NonceIssuedAt.IsZero())

	// A second challenge replaces the first.
	second, err := svc.GenerateNonce(ctx, "0xabc", types.ChainEVM, "84532")
	require.NoError(t, err)
	assert.NotEqual(t, nonce, second)
}

func TestGenerateNonceRejectsUnknownChainType(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GenerateNonce(context.Background(), "0xabc", "bitcoin", "1")
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	// Valid chain type without a registered adapter is also a config error.
	_, err = svc.GenerateNonce(context.Background(), "sol-wallet", types.ChainSolana, "devnet")
	require.ErrorAs(t, err, &cfgErr)
}

func TestVerifyWalletConsumesNonceOnce(t *testing.T) {
	svc, identities := newTestService(t)
	ctx := context.Background()

	nonce, err := svc.GenerateNonce(ctx, "0xabc", types.ChainEVM, "84532")
	require.NoError(t, err)

	req := types.VerifyAuthRequest{
		ChainType:     types.ChainEVM,
		SignedMessage: "Sign in\nNonce: " + nonce,
		Signature:     "0xsignature",
	}

	identity, session, err := svc.VerifyWallet(ctx, "0xabc", req)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", identity.WalletAddress)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	stored, err := identities.FindByWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Empty(t, stored.Nonce, "nonce must be consumed")
	assert.Equal(t, "0xsignature", stored.LastSignature)

	// Replaying the same signed message must fail: the nonce is gone.
	_, _, err = svc.VerifyWallet(ctx, "0xabc", req)
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, types.ReasonNonceMismatch, authErr.Reason)
}

func TestVerifyWalletKeepsNonceOnFailure(t *testing.T) {
	svc, identities := newTestService(t)
	ctx := context.Background()

	nonce, err := svc.GenerateNonce(ctx, "0xabc", types.ChainEVM, "84532")
	require.NoError(t, err)

	_, _, err = svc.VerifyWallet(ctx, "0xabc", types.VerifyAuthRequest{
		ChainType:     types.ChainEVM,
		SignedMessage: "Sign in\nNonce: " + nonce,
		Signature:     "bad",
	})
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, types.ReasonSignatureInvalid, authErr.Reason)

	stored, err := identities.FindByWallet(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, nonce, stored.Nonce, "failed verification must not consume the nonce")

	// The challenge is still usable with a good signature.
	_, _, err = svc.VerifyWallet(ctx, "0xabc", types.VerifyAuthRequest{
		ChainType:     types.ChainEVM,
		SignedMessage: "Sign in\nNonce: " + nonce,
		Signature:     "0xgood",
	})
	require.NoError(t, err)
}

func TestVerifyWalletUnknownWallet(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.VerifyWallet(context.Background(), "0xnobody", types.VerifyAuthRequest{
		ChainType:     types.ChainEVM,
		SignedMessage: "Nonce: x",
		Signature:     "sig",
	})
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestVerifyWalletChainTypeMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	nonce, err := svc.GenerateNonce(ctx, "0xabc", types.ChainEVM, "84532")
	require.NoError(t, err)

	_, _, err = svc.VerifyWallet(ctx, "0xabc", types.VerifyAuthRequest{
		ChainType:     types.ChainSolana,
		SignedMessage: "Nonce: " + nonce,
		Signature:     "sig",
	})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
