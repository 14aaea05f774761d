package chains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

func TestExtractNonce(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"plain", "Sign in\nNonce: abc123", "abc123"},
		{"case insensitive", "Sign in\nnonce: abc123", "abc123"},
		{"trims whitespace", "Nonce:   abc123  ", "abc123"},
		{"first match wins", "Nonce: first\nNonce: second", "first"},
		{"missing", "Sign in with your wallet", ""},
		{"stops at newline", "Nonce: abc\nmore text", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractNonce(tt.message))
		})
	}
}

func TestCheckNonce(t *testing.T) {
	identity := types.Identity{WalletAddress: "wallet", Nonce: "abc123"}

	require.NoError(t, checkNonce(identity, "Sign in\nNonce: abc123", "EVM"))

	var authErr *types.AuthenticationError

	err := checkNonce(identity, "Sign in\nNonce: other", "EVM")
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, types.ReasonNonceMismatch, authErr.Reason)

	err = checkNonce(identity, "Sign in without a nonce", "EVM")
	require.ErrorAs(t, err, &authErr)

	// A consumed (cleared) nonce can never match.
	err = checkNonce(types.Identity{WalletAddress: "wallet"}, "Nonce: abc123", "EVM")
	require.ErrorAs(t, err, &authErr)
}

func TestRegistryUnknownChainType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(types.ChainEVM)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestResolveRPCURL(t *testing.T) {
	cfg := types.ChainConfig{RPCURLs: map[string]string{"1": "https://rpc.example"}}

	url, err := resolveRPCURL(cfg, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example", url)

	url, err = resolveRPCURL(cfg, "2", func(string) (string, bool) { return "https://fallback", true })
	require.NoError(t, err)
	assert.Equal(t, "https://fallback", url)

	_, err = resolveRPCURL(cfg, "2", nil)
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
