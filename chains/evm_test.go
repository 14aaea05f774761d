package chains

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permapay/permapay/types"
)

func signPersonal(t *testing.T, keyHex, message string) (address, signature string) {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	// Wallets emit v as 27/28.
	sig[64] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestEVMVerifySignature(t *testing.T) {
	const keyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	adapter := NewEVM(types.ChainConfig{})

	message := "Sign in to the storage gateway\nNonce: deadbeef"
	address, signature := signPersonal(t, keyHex, message)
	identity := types.Identity{WalletAddress: address, ChainType: types.ChainEVM, Nonce: "deadbeef"}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, adapter.VerifySignature(context.Background(), identity, message, signature, ""))
	})

	t.Run("lowercase wallet still matches", func(t *testing.T) {
		lower := identity
		lower.WalletAddress = common.HexToAddress(address).Hex()
		require.NoError(t, adapter.VerifySignature(context.Background(), lower, message, signature, ""))
	})

	t.Run("tampered signature", func(t *testing.T) {
		raw, _ := hex.DecodeString(signature[2:])
		raw[10] ^= 0xff
		tampered := "0x" + hex.EncodeToString(raw)

		err := adapter.VerifySignature(context.Background(), identity, message, tampered, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, types.ReasonSignatureInvalid, authErr.Reason)
	})

	t.Run("tampered message", func(t *testing.T) {
		err := adapter.VerifySignature(context.Background(), identity, message+"!", signature, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, types.ReasonSignatureInvalid, authErr.Reason)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		stale := identity
		stale.Nonce = "cafebabe"
		err := adapter.VerifySignature(context.Background(), stale, message, signature, "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, types.ReasonNonceMismatch, authErr.Reason)
	})

	t.Run("malformed signature", func(t *testing.T) {
		err := adapter.VerifySignature(context.Background(), identity, message, "0x1234", "")
		var authErr *types.AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestMatchTransferLog(t *testing.T) {
	token := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := big.NewInt(10_000)

	transferLog := func(token, from, to common.Address, value *big.Int) *ethtypes.Log {
		return &ethtypes.Log{
			Address: token,
			Topics: []common.Hash{
				transferEventTopic,
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(to.Bytes()),
			},
			Data: common.LeftPadBytes(value.Bytes(), 32),
		}
	}

	t.Run("exact match", func(t *testing.T) {
		logs := []*ethtypes.Log{transferLog(token, from, to, value)}
		assert.True(t, matchTransferLog(logs, token, from, to, value))
	})

	t.Run("wrong contract", func(t *testing.T) {
		other := common.HexToAddress("0x3333333333333333333333333333333333333333")
		logs := []*ethtypes.Log{transferLog(other, from, to, value)}
		assert.False(t, matchTransferLog(logs, token, from, to, value))
	})

	t.Run("wrong amount", func(t *testing.T) {
		logs := []*ethtypes.Log{transferLog(token, from, to, big.NewInt(9_999))}
		assert.False(t, matchTransferLog(logs, token, from, to, value))
	})

	t.Run("wrong recipient", func(t *testing.T) {
		other := common.HexToAddress("0x3333333333333333333333333333333333333333")
		logs := []*ethtypes.Log{transferLog(token, from, other, value)}
		assert.False(t, matchTransferLog(logs, token, from, to, value))
	})

	t.Run("non transfer event skipped", func(t *testing.T) {
		logs := []*ethtypes.Log{{
			Address: token,
			Topics:  []common.Hash{crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))},
		}}
		assert.False(t, matchTransferLog(logs, token, from, to, value))
	})

	t.Run("match among noise", func(t *testing.T) {
		other := common.HexToAddress("0x3333333333333333333333333333333333333333")
		logs := []*ethtypes.Log{
			transferLog(other, from, to, value),
			transferLog(token, from, to, big.NewInt(1)),
			transferLog(token, from, to, value),
		}
		assert.True(t, matchTransferLog(logs, token, from, to, value))
	})
}
