package chains

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/permapay/permapay/types"
)

var _ Adapter = (*Cosmos)(nil)

// Cosmos verifies ADR-36 offline signatures and bank transfers observed
// through a chain node's gRPC tx service. Fee settlement is not implemented
// for this chain family.
type Cosmos struct {
	cfg types.ChainConfig

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewCosmos builds the Cosmos adapter. The gRPC connection is created
// lazily.
func NewCosmos(cfg types.ChainConfig) *Cosmos {
	return &Cosmos{cfg: cfg}
}

func (c *Cosmos) ChainType() types.ChainType { return types.ChainCosmos }

func (c *Cosmos) dial() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	if c.cfg.GRPCURL == "" {
		return nil, types.NewConfigurationError("no Cosmos gRPC endpoint configured")
	}
	conn, err := grpc.NewClient(c.cfg.GRPCURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to Cosmos gRPC at %s: %w", c.cfg.GRPCURL, err)
	}
	c.conn = conn
	return conn, nil
}

// ADR-36 sign doc. Field order is alphabetical to match the canonical JSON
// produced by wallet signers; Go's default JSON escaping of &, < and >
// matches that serialization as well.
type adr36Fee struct {
	Amount []json.RawMessage `json:"amount"`
	Gas    string            `json:"gas"`
}

type adr36Value struct {
	Data   string `json:"data"`
	Signer string `json:"signer"`
}

type adr36Msg struct {
	Type  string     `json:"type"`
	Value adr36Value `json:"value"`
}

type adr36Doc struct {
	AccountNumber string     `json:"account_number"`
	ChainID       string     `json:"chain_id"`
	Fee           adr36Fee   `json:"fee"`
	Memo          string     `json:"memo"`
	Msgs          []adr36Msg `json:"msgs"`
	Sequence      string     `json:"sequence"`
}

// ADR36SignDoc serializes the canonical ADR-36 sign doc for an offline
// signature over the given message by the given signer.
func ADR36SignDoc(signer, message string) ([]byte, error) {
	doc := adr36Doc{
		AccountNumber: "0",
		ChainID:       "",
		Fee:           adr36Fee{Amount: []json.RawMessage{}, Gas: "0"},
		Memo:          "",
		Msgs: []adr36Msg{{
			Type:  "sign/MsgSignData",
			Value: adr36Value{Data: message, Signer: signer},
		}},
		Sequence: "0",
	}
	return json.Marshal(doc)
}

// VerifySignature rebuilds the ADR-36 sign doc for the message and checks
// the base64 secp256k1 signature against the supplied compressed public
// key, then the embedded nonce.
func (c *Cosmos) VerifySignature(_ context.Context, identity types.Identity, signedMessage, signature, publicKey string) error {
	if publicKey == "" {
		return types.NewAuthenticationError(types.ReasonUnsupportedPublicKey,
			"invalid Cosmos signature: public key is required")
	}
	pkBytes, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pkBytes) != secp256k1.PubKeySize {
		return types.NewAuthenticationError(types.ReasonUnsupportedPublicKey,
			"invalid Cosmos signature: malformed public key")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Cosmos signature: malformed signature bytes")
	}

	doc, err := ADR36SignDoc(identity.WalletAddress, signedMessage)
	if err != nil {
		return fmt.Errorf("serializing sign doc: %w", err)
	}

	pk := secp256k1.PubKey{Key: pkBytes}
	if !pk.VerifySignature(doc, sig) {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Cosmos signature: verification failed")
	}

	return checkNonce(identity, signedMessage, "Cosmos")
}

// VerifyPayment looks the transaction up through the node's tx service and
// requires a successful execution containing a transfer event that matches
// sender, recipient and amount. The amount is compared in the chain's coin
// notation, subunits followed by the denom.
func (c *Cosmos) VerifyPayment(ctx context.Context, q PaymentQuery) error {
	if q.Token.Denom == "" {
		return types.NewConfigurationError(
			"token %s has no denom; Cosmos tokens must configure one", q.Token.ID)
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}

	resp, err := txtypes.NewServiceClient(conn).GetTx(ctx, &txtypes.GetTxRequest{Hash: q.TxRef})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.NewPaymentError(types.PaymentNotFound, "transaction %s not found", q.TxRef)
		}
		return fmt.Errorf("fetching transaction %s: %w", q.TxRef, err)
	}
	if resp.TxResponse == nil {
		return types.NewPaymentError(types.PaymentNotFound, "transaction %s not found", q.TxRef)
	}
	if resp.TxResponse.Code != 0 {
		return types.NewPaymentError(types.PaymentReverted,
			"transaction %s failed with code %d", q.TxRef, resp.TxResponse.Code)
	}

	want := fmtAmount(q.Amount, q.Token.Denom)
	for _, ev := range resp.TxResponse.Events {
		if ev.Type != "transfer" {
			continue
		}
		var sender, recipient, amount string
		for _, attr := range ev.Attributes {
			switch attr.Key {
			case "sender":
				sender = attr.Value
			case "recipient":
				recipient = attr.Value
			case "amount":
				amount = attr.Value
			}
		}
		if sender == q.Sender && recipient == q.Recipient && amount == want {
			return nil
		}
	}

	return types.NewPaymentError(types.PaymentMismatch,
		"transfer of %s from %s to %s not found in transaction %s", want, q.Sender, q.Recipient, q.TxRef)
}

// SettleFee is not available for Cosmos. Fee records for this chain stay
// pending until an operator intervenes.
func (c *Cosmos) SettleFee(_ context.Context, _ FeeTransfer) (string, error) {
	return "", &types.UnimplementedOperationError{ChainType: types.ChainCosmos, Operation: "fee settlement"}
}

func (c *Cosmos) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
