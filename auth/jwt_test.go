package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(types.AuthConfig{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return issuer
}

func TestTokenIssuerRoundtrip(t *testing.T) {
	issuer := testIssuer(t)
	identity := types.Identity{
		ID:            42,
		WalletAddress: "0xabc",
		ChainType:     types.ChainEVM,
		ChainID:       "84532",
		Role:          "user",
	}

	session, err := issuer.Issue(identity)
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	assert.NotEqual(t, session.AccessToken, session.RefreshToken)

	claims, err := issuer.ParseAccess(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "0xabc", claims.WalletAddress)
	assert.Equal(t, types.ChainEVM, claims.ChainType)
	assert.Equal(t, "84532", claims.ChainID)
	assert.Equal(t, "user", claims.Role)
}

func TestTokenIssuerRejectsMixedUse(t *testing.T) {
	issuer := testIssuer(t)
	session, err := issuer.Issue(types.Identity{WalletAddress: "0xabc", ChainType: types.ChainEVM})
	require.NoError(t, err)

	// A refresh token is not an access token and vice versa.
	_, err = issuer.ParseAccess(session.RefreshToken)
	require.Error(t, err)

	_, err = issuer.Refresh(session.AccessToken)
	require.Error(t, err)
}

func TestTokenIssuerRefreshRotation(t *testing.T) {
	issuer := testIssuer(t)
	session, err := issuer.Issue(types.Identity{ID: 7, WalletAddress: "0xabc", ChainType: types.ChainEVM, Role: "user"})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	rotated, err := issuer.Refresh(session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	claims, err := issuer.ParseAccess(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "0xabc", claims.WalletAddress)
}

func TestTokenIssuerRejectsForeignSecret(t *testing.T) {
	issuer := testIssuer(t)
	other, err := NewTokenIssuer(types.AuthConfig{JWTSecret: "other-secret", AccessTTL: time.Hour, RefreshTTL: time.Hour})
	require.NoError(t, err)

	session, err := other.Issue(types.Identity{WalletAddress: "0xabc"})
	require.NoError(t, err)

	_, err = issuer.ParseAccess(session.AccessToken)
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer, err := NewTokenIssuer(types.AuthConfig{
		JWTSecret:  "test-secret",
		AccessTTL:  -time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	session, err := issuer.Issue(types.Identity{WalletAddress: "0xabc"})
	require.NoError(t, err)

	_, err = issuer.ParseAccess(session.AccessToken)
	require.Error(t, err)
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer(types.AuthConfig{})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
