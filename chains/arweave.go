package chains

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/permapay/permapay/types"
)

const defaultArweaveGateway = "https://arweave.net"

// pssSaltLength matches the arweave.js signing convention.
const pssSaltLength = 32

var _ Adapter = (*Arweave)(nil)

// Arweave verifies RSA-PSS wallet signatures and native winston transfers
// through a gateway, and settles fees by signing and posting a format-2
// transaction from the custodial JWK.
type Arweave struct {
	gateway string
	http    *http.Client
}

// NewArweave builds the Arweave adapter against the given gateway URL. An
// empty gateway selects arweave.net.
func NewArweave(gateway string, timeout time.Duration) *Arweave {
	if gateway == "" {
		gateway = defaultArweaveGateway
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Arweave{
		gateway: gateway,
		http:    &http.Client{Timeout: timeout},
	}
}

func (a *Arweave) ChainType() types.ChainType { return types.ChainArweave }

// OwnerAddress derives the wallet address from a base64url RSA modulus: the
// base64url-encoded SHA-256 of the modulus bytes.
func OwnerAddress(owner string) (string, error) {
	mod, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil {
		return "", fmt.Errorf("decoding RSA modulus: %w", err)
	}
	sum := sha256.Sum256(mod)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// VerifySignature checks an RSA-PSS (SHA-256, salt length 32) signature and
// requires that the public key's derived address matches the identity's
// wallet, then checks the embedded nonce.
func (a *Arweave) VerifySignature(_ context.Context, identity types.Identity, signedMessage, signature, publicKey string) error {
	if publicKey == "" {
		return types.NewAuthenticationError(types.ReasonUnsupportedPublicKey,
			"invalid Arweave signature: public key is required")
	}
	addr, err := OwnerAddress(publicKey)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonUnsupportedPublicKey,
			"invalid Arweave signature: malformed public key")
	}
	if addr != identity.WalletAddress {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Arweave signature: public key does not derive the wallet address")
	}

	mod, err := base64.RawURLEncoding.DecodeString(publicKey)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonUnsupportedPublicKey,
			"invalid Arweave signature: malformed public key")
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(mod), E: 65537}

	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Arweave signature: malformed signature bytes")
	}

	digest := sha256.Sum256([]byte(signedMessage))
	opts := &rsa.PSSOptions{SaltLength: pssSaltLength, Hash: crypto.SHA256}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, opts); err != nil {
		return types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"invalid Arweave signature: verification failed")
	}

	return checkNonce(identity, signedMessage, "Arweave")
}

type arweaveTx struct {
	Owner    string `json:"owner"`
	Target   string `json:"target"`
	Quantity string `json:"quantity"`
}

// VerifyPayment fetches the transaction from the gateway. A 404 means the
// transaction is unknown, a 202 means it is still pending; both are
// retryable. A confirmed transaction must match sender, recipient and
// winston quantity exactly.
func (a *Arweave) VerifyPayment(ctx context.Context, q PaymentQuery) error {
	body, status, err := a.get(ctx, "/tx/"+q.TxRef)
	if err != nil {
		return fmt.Errorf("fetching arweave transaction %s: %w", q.TxRef, err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.NewPaymentError(types.PaymentNotFound, "arweave transaction %s not found", q.TxRef)
	case http.StatusAccepted:
		return types.NewPaymentError(types.PaymentNotFound, "arweave transaction %s is still pending", q.TxRef)
	default:
		return fmt.Errorf("fetching arweave transaction %s: gateway returned %d", q.TxRef, status)
	}

	var tx arweaveTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return fmt.Errorf("decoding arweave transaction %s: %w", q.TxRef, err)
	}
	return matchArweaveTransfer(tx, q)
}

// matchArweaveTransfer compares a gateway transaction against the query. The
// sender is compared through the address derived from the owner modulus.
func matchArweaveTransfer(tx arweaveTx, q PaymentQuery) error {
	from, err := OwnerAddress(tx.Owner)
	if err != nil {
		return types.NewPaymentError(types.PaymentMismatch, "arweave transaction owner is malformed")
	}
	if from != q.Sender {
		return types.NewPaymentError(types.PaymentMismatch, "arweave transfer sender is invalid")
	}
	if tx.Target != q.Recipient {
		return types.NewPaymentError(types.PaymentMismatch, "arweave transfer receiver is invalid")
	}
	if tx.Quantity != q.Amount {
		return types.NewPaymentError(types.PaymentMismatch,
			"transferred quantity %s does not match expected amount %s", tx.Quantity, q.Amount)
	}
	return nil
}

// SettleFee signs and posts a format-2 native transfer from the custodial
// JWK. The reward is taken from the gateway's price endpoint and the anchor
// from /tx_anchor.
func (a *Arweave) SettleFee(ctx context.Context, t FeeTransfer) (string, error) {
	key, owner, err := parseJWK([]byte(t.Account.PrivateKey))
	if err != nil {
		return "", types.NewConfigurationError("invalid Arweave custodial key: %v", err)
	}

	anchor, status, err := a.get(ctx, "/tx_anchor")
	if err != nil || status != http.StatusOK {
		return "", fmt.Errorf("fetching arweave anchor: status %d: %w", status, err)
	}
	reward, status, err := a.get(ctx, "/price/0/"+t.FeeAddress)
	if err != nil || status != http.StatusOK {
		return "", fmt.Errorf("fetching arweave reward: status %d: %w", status, err)
	}

	lastTx, err := base64.RawURLEncoding.DecodeString(string(anchor))
	if err != nil {
		return "", fmt.Errorf("decoding arweave anchor: %w", err)
	}
	target, err := base64.RawURLEncoding.DecodeString(t.FeeAddress)
	if err != nil {
		return "", types.NewConfigurationError("invalid Arweave fee address %q", t.FeeAddress)
	}
	ownerBytes, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil {
		return "", types.NewConfigurationError("invalid Arweave custodial key: malformed modulus")
	}

	// Format-2 signature payload.
	digest := deepHash([]any{
		[]byte("2"),
		ownerBytes,
		target,
		[]byte(t.AmountInSubUnits),
		reward,
		lastTx,
		[]any{},
		[]byte("0"),
		[]byte{},
	})

	sigInput := sha256.Sum256(digest[:])
	opts := &rsa.PSSOptions{SaltLength: pssSaltLength, Hash: crypto.SHA256}
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, sigInput[:], opts)
	if err != nil {
		return "", fmt.Errorf("signing arweave fee transfer: %w", err)
	}
	idSum := sha256.Sum256(sig)
	txID := base64.RawURLEncoding.EncodeToString(idSum[:])

	payload, err := json.Marshal(map[string]any{
		"format":    2,
		"id":        txID,
		"last_tx":   string(anchor),
		"owner":     owner,
		"tags":      []any{},
		"target":    t.FeeAddress,
		"quantity":  t.AmountInSubUnits,
		"data":      "",
		"data_size": "0",
		"data_root": "",
		"reward":    string(reward),
		"signature": base64.RawURLEncoding.EncodeToString(sig),
	})
	if err != nil {
		return "", fmt.Errorf("encoding arweave fee transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gateway+"/tx", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting arweave fee transfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("posting arweave fee transfer: gateway returned %d: %s", resp.StatusCode, body)
	}

	return txID, nil
}

func (a *Arweave) Close() { a.http.CloseIdleConnections() }

func (a *Arweave) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.gateway+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// deepHash computes the Arweave deep-hash of a nested structure of byte
// blobs using SHA-384. A blob hashes as
// sha384(sha384("blob"+len) || sha384(data)); a list folds item hashes into
// an accumulator seeded with sha384("list"+len).
func deepHash(v any) [sha512.Size384]byte {
	switch data := v.(type) {
	case []byte:
		tag := []byte("blob" + strconv.Itoa(len(data)))
		tagHash := sha512.Sum384(tag)
		dataHash := sha512.Sum384(data)
		return sha512.Sum384(append(tagHash[:], dataHash[:]...))
	case []any:
		tag := []byte("list" + strconv.Itoa(len(data)))
		acc := sha512.Sum384(tag)
		for _, item := range data {
			itemHash := deepHash(item)
			acc = sha512.Sum384(append(acc[:], itemHash[:]...))
		}
		return acc
	default:
		panic(fmt.Sprintf("deepHash: unsupported type %T", v))
	}
}

type jwk struct {
	N string `json:"n"`
	E string `json:"e"`
	D string `json:"d"`
	P string `json:"p"`
	Q string `json:"q"`
}

// parseJWK loads an RSA private key from Arweave's JWK wallet format and
// returns it together with the base64url modulus.
func parseJWK(raw []byte) (*rsa.PrivateKey, string, error) {
	var k jwk
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, "", fmt.Errorf("decoding JWK: %w", err)
	}
	n, err := b64Int(k.N)
	if err != nil {
		return nil, "", fmt.Errorf("JWK field n: %w", err)
	}
	e, err := b64Int(k.E)
	if err != nil {
		return nil, "", fmt.Errorf("JWK field e: %w", err)
	}
	d, err := b64Int(k.D)
	if err != nil {
		return nil, "", fmt.Errorf("JWK field d: %w", err)
	}
	p, err := b64Int(k.P)
	if err != nil {
		return nil, "", fmt.Errorf("JWK field p: %w", err)
	}
	q, err := b64Int(k.Q)
	if err != nil {
		return nil, "", fmt.Errorf("JWK field q: %w", err)
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	key.Precompute()
	if err := key.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating JWK: %w", err)
	}
	return key, k.N, nil
}

func b64Int(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
