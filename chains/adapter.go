// Package chains implements the per-chain adapters behind the verification
// engine. Each adapter owns client construction for its chain family,
// message-signature verification, payment inspection and the fee-settlement
// transfer.
package chains

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/permapay/permapay/types"
)

// PaymentQuery asks an adapter to confirm a specific on-chain transfer.
// Amount is in subunits of the token (winston, lamports, wei or the token's
// smallest denomination) as a decimal string.
type PaymentQuery struct {
	ChainID   string
	TxRef     string
	Sender    string
	Recipient string
	Amount    string
	Token     types.Token
}

// FeeTransfer asks an adapter to move the fee share out of the custodial
// wallet.
type FeeTransfer struct {
	Token            types.Token
	AmountInSubUnits string
	Account          types.ChainAccount
	FeeAddress       string
}

// Adapter is the per-chain-type verification and settlement contract. One
// implementation exists per chain family; dispatch happens through the
// Registry, never through dynamic lookups.
type Adapter interface {
	ChainType() types.ChainType

	// VerifySignature checks a signed challenge message against the
	// identity's wallet and stored nonce. Failures are typed
	// AuthenticationErrors with a distinct reason per violated invariant.
	VerifySignature(ctx context.Context, identity types.Identity, signedMessage, signature, publicKey string) error

	// VerifyPayment confirms the referenced transaction transferred
	// exactly the queried amount between the queried addresses. Failures
	// are typed PaymentVerificationErrors distinguishing not-found from
	// reverted from mismatch.
	VerifyPayment(ctx context.Context, q PaymentQuery) error

	// SettleFee executes a chain-native transfer of the fee share from
	// the custodial account and returns the transaction reference.
	SettleFee(ctx context.Context, t FeeTransfer) (string, error)

	Close()
}

// Registry selects the adapter for a chain type. An unknown chain type is a
// configuration error, not a transient failure.
type Registry struct {
	adapters map[types.ChainType]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.ChainType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ChainType()] = a
	}
	return r
}

// Register adds or replaces the adapter for its chain type.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.ChainType()] = a
}

// Get returns the adapter for a chain type.
func (r *Registry) Get(ct types.ChainType) (Adapter, error) {
	a, ok := r.adapters[ct]
	if !ok {
		return nil, types.NewConfigurationError("no adapter registered for chain type %s", ct)
	}
	return a, nil
}

// Close closes every registered adapter.
func (r *Registry) Close() {
	for _, a := range r.adapters {
		a.Close()
	}
}

var nonceRe = regexp.MustCompile(`(?i)Nonce:\s*([^\n]+)`)

// ExtractNonce pulls the nonce token out of a challenge message. The first
// line matching `Nonce:\s*(.+)` wins; the value is trimmed.
func ExtractNonce(signedMessage string) string {
	m := nonceRe.FindStringSubmatch(signedMessage)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// checkNonce enforces the freshness invariant shared by all chain types:
// the message must embed exactly the stored nonce.
func checkNonce(identity types.Identity, signedMessage string, label string) error {
	nonce := ExtractNonce(signedMessage)
	if nonce == "" || identity.Nonce == "" || nonce != identity.Nonce {
		return types.NewAuthenticationError(types.ReasonNonceMismatch,
			"invalid %s signature: nonce missing or mismatch", label)
	}
	return nil
}

func resolveRPCURL(cfg types.ChainConfig, chainID string, fallback func(string) (string, bool)) (string, error) {
	if url, ok := cfg.RPCURLs[chainID]; ok {
		return url, nil
	}
	if fallback != nil {
		if url, ok := fallback(chainID); ok {
			return url, nil
		}
	}
	return "", types.NewConfigurationError("no RPC endpoint configured for chain id %s", chainID)
}

func fmtAmount(amount, denom string) string {
	return fmt.Sprintf("%s%s", amount, denom)
}
