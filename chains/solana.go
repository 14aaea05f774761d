package chains

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/permapay/permapay/types"
)

var _ Adapter = (*Solana)(nil)

// Solana verifies ed25519 wallet signatures and system-program lamport
// transfers. Fee settlement is not implemented for this chain family.
type Solana struct {
	cfg types.ChainConfig

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewSolana builds the Solana adapter. RPC connections are created lazily
// per cluster.
func NewSolana(cfg types.ChainConfig) *Solana {
	return &Solana{cfg: cfg, clients: make(map[string]*rpc.Client)}
}

func (s *Solana) ChainType() types.ChainType { return types.ChainSolana }

func (s *Solana) client(chainID string) (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[chainID]; ok {
		return c, nil
	}
	url, err := resolveRPCURL(s.cfg, chainID, func(id string) (string, bool) {
		switch id {
		case "mainnet-beta":
			return rpc.MainNetBeta_RPC, true
		case "devnet":
			return rpc.DevNet_RPC, true
		case "testnet":
			return rpc.TestNet_RPC, true
		}
		return "", false
	})
	if err != nil {
		return nil, err
	}
	c := rpc.New(url)
	s.clients[chainID] = c
	return c, nil
}

// VerifySignature checks the base64 ed25519 signature over the raw message
// bytes against the wallet's base58 public key, then the embedded nonce.
func (s *Solana) VerifySignature(_ context.Context, identity types.Identity, signedMessage, signature, _ string) error {
	pub, err := solana.PublicKeyFromBase58(identity.WalletAddress)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Solana signature: wallet address is not a valid public key")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Solana signature: malformed signature bytes")
	}
	if !ed25519.Verify(pub.Bytes(), []byte(signedMessage), sig) {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Solana signature: verification failed")
	}
	return checkNonce(identity, signedMessage, "Solana")
}

// VerifyPayment fetches the confirmed transaction and requires a successful
// system-program transfer of exactly the queried lamports between the
// queried accounts.
func (s *Solana) VerifyPayment(ctx context.Context, q PaymentQuery) error {
	client, err := s.client(q.ChainID)
	if err != nil {
		return err
	}

	txSig, err := solana.SignatureFromBase58(q.TxRef)
	if err != nil {
		return types.NewPaymentError(types.PaymentMismatch, "invalid transaction signature %q", q.TxRef)
	}
	sender, err := solana.PublicKeyFromBase58(q.Sender)
	if err != nil {
		return types.NewPaymentError(types.PaymentMismatch, "invalid sender address %q", q.Sender)
	}
	recipient, err := solana.PublicKeyFromBase58(q.Recipient)
	if err != nil {
		return types.NewPaymentError(types.PaymentMismatch, "invalid recipient address %q", q.Recipient)
	}
	lamports, err := strconv.ParseUint(q.Amount, 10, 64)
	if err != nil {
		return types.NewConfigurationError("invalid expected amount %q", q.Amount)
	}

	out, err := client.GetTransaction(ctx, txSig, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return types.NewPaymentError(types.PaymentNotFound, "transaction %s not found", q.TxRef)
		}
		return fmt.Errorf("fetching transaction %s: %w", q.TxRef, err)
	}
	if out == nil || out.Transaction == nil {
		return types.NewPaymentError(types.PaymentNotFound, "transaction %s not found", q.TxRef)
	}
	if out.Meta != nil && out.Meta.Err != nil {
		return types.NewPaymentError(types.PaymentReverted, "transaction %s failed on chain", q.TxRef)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return fmt.Errorf("decoding transaction %s: %w", q.TxRef, err)
	}

	ok, err := matchSystemTransfer(tx, sender, recipient, lamports)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewPaymentError(types.PaymentMismatch,
			"transfer of %d lamports from %s to %s not found in transaction %s",
			lamports, q.Sender, q.Recipient, q.TxRef)
	}
	return nil
}

// matchSystemTransfer scans the transaction's instructions for a
// system-program transfer with exactly the expected source, destination and
// lamport amount.
func matchSystemTransfer(tx *solana.Transaction, sender, recipient solana.PublicKey, lamports uint64) (bool, error) {
	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.SystemProgramID) {
			continue
		}

		accountMetas := make([]*solana.AccountMeta, len(inst.Accounts))
		for i, accIdx := range inst.Accounts {
			pub := tx.Message.AccountKeys[accIdx]
			writable, err := tx.Message.IsWritable(pub)
			if err != nil {
				return false, fmt.Errorf("resolving account metas: %w", err)
			}
			accountMetas[i] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   tx.Message.IsSigner(pub),
				IsWritable: writable,
			}
		}

		sysInst, err := system.DecodeInstruction(accountMetas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := sysInst.Impl.(*system.Transfer)
		if !ok || transfer.Lamports == nil || len(accountMetas) < 2 {
			continue
		}
		if accountMetas[0].PublicKey.Equals(sender) &&
			accountMetas[1].PublicKey.Equals(recipient) &&
			*transfer.Lamports == lamports {
			return true, nil
		}
	}
	return false, nil
}

// SettleFee is not available for Solana. Fee records for this chain stay
// pending until an operator intervenes.
func (s *Solana) SettleFee(_ context.Context, _ FeeTransfer) (string, error) {
	return "", &types.UnimplementedOperationError{ChainType: types.ChainSolana, Operation: "fee settlement"}
}

func (s *Solana) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = make(map[string]*rpc.Client)
}
