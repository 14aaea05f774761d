package chains

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/permapay/permapay/types"
)

// Transfer(address indexed from, address indexed to, uint256 value)
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc20TransferABI = `[{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

var _ Adapter = (*EVM)(nil)

// EVM is the account-chain adapter: EIP-191 signature recovery, receipt and
// Transfer-log inspection, ERC-20 fee sweeps.
type EVM struct {
	cfg      types.ChainConfig
	tokenABI abi.ABI

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewEVM builds the account-chain adapter. RPC connections are dialed
// lazily per chain id.
func NewEVM(cfg types.ChainConfig) *EVM {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		// The ABI is a compile-time constant.
		panic(err)
	}
	return &EVM{
		cfg:      cfg,
		tokenABI: parsed,
		clients:  make(map[string]*ethclient.Client),
	}
}

func (e *EVM) ChainType() types.ChainType { return types.ChainEVM }

func (e *EVM) client(chainID string) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[chainID]; ok {
		return c, nil
	}
	url, err := resolveRPCURL(e.cfg, chainID, func(id string) (string, bool) {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return "", false
		}
		u, ok := types.DefaultEVMEndpoints[n]
		return u, ok
	})
	if err != nil {
		return nil, err
	}
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC for chain %s: %w", chainID, err)
	}
	e.clients[chainID] = c
	return c, nil
}

// VerifySignature recovers the signer from an EIP-191 personal-sign
// signature and requires case-insensitive equality with the identity's
// wallet address, then checks the embedded nonce.
func (e *EVM) VerifySignature(_ context.Context, identity types.Identity, signedMessage, signature, _ string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid EVM signature: malformed signature bytes")
	}

	// Normalize the recovery id from 27/28 to 0/1.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	digest := accounts.TextHash([]byte(signedMessage))
	pub, err := crypto.SigToPub(digest, recSig)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid EVM signature: recovery failed")
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), identity.WalletAddress) {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid EVM signature: recovered address mismatch")
	}

	return checkNonce(identity, signedMessage, "EVM")
}

// VerifyPayment fetches the transaction receipt and requires success. When
// the transaction target is a contract it decodes the token Transfer event
// for the expected token contract; otherwise it treats the transaction as a
// native-currency transfer and compares it directly.
func (e *EVM) VerifyPayment(ctx context.Context, q PaymentQuery) error {
	client, err := e.client(q.ChainID)
	if err != nil {
		return err
	}

	txHash := common.HexToHash(q.TxRef)
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.NewPaymentError(types.PaymentNotFound, "transaction receipt not found for %s", q.TxRef)
		}
		return fmt.Errorf("fetching receipt for %s: %w", q.TxRef, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.NewPaymentError(types.PaymentReverted, "transaction %s reverted", q.TxRef)
	}

	tx, _, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("fetching transaction %s: %w", q.TxRef, err)
	}
	if tx.To() == nil {
		return types.NewPaymentError(types.PaymentMismatch, "transaction %s is a contract creation", q.TxRef)
	}

	expected, ok := new(big.Int).SetString(q.Amount, 10)
	if !ok {
		return types.NewConfigurationError("invalid expected amount %q", q.Amount)
	}

	code, err := client.CodeAt(ctx, *tx.To(), nil)
	if err != nil {
		return fmt.Errorf("checking code at %s: %w", tx.To(), err)
	}

	if len(code) > 0 {
		if matchTransferLog(receipt.Logs,
			common.HexToAddress(q.Token.Address),
			common.HexToAddress(q.Sender),
			common.HexToAddress(q.Recipient),
			expected) {
			return nil
		}
		return types.NewPaymentError(types.PaymentMismatch,
			"token transfer of %s to %s not found in transaction %s", q.Amount, q.Recipient, q.TxRef)
	}

	return e.verifyNativeTransfer(q, tx, expected)
}

func (e *EVM) verifyNativeTransfer(q PaymentQuery, tx *ethtypes.Transaction, expected *big.Int) error {
	chainID, err := strconv.ParseInt(q.ChainID, 10, 64)
	if err != nil {
		return types.NewConfigurationError("invalid EVM chain id %q", q.ChainID)
	}
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(chainID)), tx)
	if err != nil {
		return types.NewPaymentError(types.PaymentMismatch, "transaction sender could not be recovered")
	}

	if !strings.EqualFold(tx.To().Hex(), q.Recipient) {
		return types.NewPaymentError(types.PaymentMismatch, "native transfer receiver is invalid")
	}
	if !strings.EqualFold(from.Hex(), q.Sender) {
		return types.NewPaymentError(types.PaymentMismatch, "native transfer sender is invalid")
	}
	if tx.Value().Cmp(expected) != 0 {
		return types.NewPaymentError(types.PaymentMismatch,
			"transferred amount %s does not match expected amount %s", tx.Value(), expected)
	}
	return nil
}

// matchTransferLog scans receipt logs for a Transfer event emitted by the
// token contract with exactly the expected from, to and value.
func matchTransferLog(logs []*ethtypes.Log, token, from, to common.Address, value *big.Int) bool {
	for _, lg := range logs {
		if lg.Address != token {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != transferEventTopic {
			continue
		}
		logFrom := common.BytesToAddress(lg.Topics[1].Bytes())
		logTo := common.BytesToAddress(lg.Topics[2].Bytes())
		logValue := new(big.Int).SetBytes(lg.Data)
		if logFrom == from && logTo == to && logValue.Cmp(value) == 0 {
			return true
		}
	}
	return false
}

// SettleFee transfers the fee share from the custodial wallet: an ERC-20
// transfer call for contract tokens, a plain value transfer for the native
// currency. It waits for the transaction to mine and requires success.
func (e *EVM) SettleFee(ctx context.Context, t FeeTransfer) (string, error) {
	client, err := e.client(t.Token.ChainID)
	if err != nil {
		return "", err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(t.Account.PrivateKey, "0x"))
	if err != nil {
		return "", types.NewConfigurationError("invalid EVM custodial private key")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	amount, ok := new(big.Int).SetString(t.AmountInSubUnits, 10)
	if !ok {
		return "", types.NewConfigurationError("invalid fee amount %q", t.AmountInSubUnits)
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetching nonce for %s: %w", from, err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggesting gas price: %w", err)
	}

	var (
		to       common.Address
		value    *big.Int
		callData []byte
	)
	if t.Token.Native() {
		to = common.HexToAddress(t.FeeAddress)
		value = amount
	} else {
		to = common.HexToAddress(t.Token.Address)
		value = big.NewInt(0)
		callData, err = e.tokenABI.Pack("transfer", common.HexToAddress(t.FeeAddress), amount)
		if err != nil {
			return "", fmt.Errorf("packing transfer call: %w", err)
		}
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: callData})
	if err != nil {
		return "", fmt.Errorf("estimating gas: %w", err)
	}

	chainID, err := strconv.ParseInt(t.Token.ChainID, 10, 64)
	if err != nil {
		return "", types.NewConfigurationError("invalid EVM chain id %q", t.Token.ChainID)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(big.NewInt(chainID)), key)
	if err != nil {
		return "", fmt.Errorf("signing fee transfer: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcasting fee transfer: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, client, signed)
	if err != nil {
		return "", fmt.Errorf("waiting for fee transfer %s: %w", signed.Hash(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", types.NewPaymentError(types.PaymentReverted, "fee transfer %s reverted", signed.Hash())
	}

	return signed.Hash().Hex(), nil
}

func (e *EVM) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clients {
		c.Close()
	}
	e.clients = make(map[string]*ethclient.Client)
}
