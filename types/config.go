package types

import (
	"time"
)

// ChainAccount is the custodial wallet for one chain type: the address that
// receives payments and the private key material used to forward the fee
// share. Key encoding is chain specific: hex secp256k1 for EVM, base58
// ed25519 seed for Solana, JWK JSON for Arweave, hex secp256k1 for Cosmos.
type ChainAccount struct {
	Address    string `json:"address"`
	PrivateKey string `json:"-"`
}

// ChainConfig wires one chain type: custodial account, fee-collection
// address and RPC endpoints keyed by chain id.
type ChainConfig struct {
	Account    ChainAccount      `json:"account"`
	FeeAddress string            `json:"feeAddress"`
	RPCURLs    map[string]string `json:"rpcUrls"`
	// GRPCURL is only used by the Cosmos adapter.
	GRPCURL string `json:"grpcUrl,omitempty"`
}

// FeeConfig controls the settlement share swept to the fee addresses.
type FeeConfig struct {
	// Percent of the payment subunits forwarded to the fee address,
	// rounded up to whole subunits.
	Percent int64 `json:"percent"`
}

// AuthConfig controls session token issuance.
type AuthConfig struct {
	// JWTSecret signs HS256 session tokens.
	JWTSecret string `json:"-"`
	// AccessTTL defaults to 15 hours.
	AccessTTL time.Duration `json:"accessTtl,omitempty"`
	// RefreshTTL defaults to 7 days.
	RefreshTTL time.Duration `json:"refreshTtl,omitempty"`
}

// PriceFeedConfig points at the currency-conversion service.
type PriceFeedConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"baseUrl"`
}

// PollConfig bounds the payment-confirmation polling loop: fixed attempts
// with a fixed delay between them. This is polling for finality, not
// retry-on-error; definitive rejections short-circuit it.
type PollConfig struct {
	Attempts uint64        `json:"attempts"`
	Delay    time.Duration `json:"delay"`
}

func (p PollConfig) withDefaults() PollConfig {
	if p.Attempts == 0 {
		p.Attempts = 30
	}
	if p.Delay == 0 {
		p.Delay = 2 * time.Second
	}
	return p
}

// Config is the explicit typed configuration passed into the gateway at
// construction. There are no dynamic string-path lookups; every chain type
// has its own entry.
type Config struct {
	Chains map[ChainType]ChainConfig `json:"chains"`
	Fee    FeeConfig                 `json:"fee"`
	Auth   AuthConfig                `json:"auth"`
	Price  PriceFeedConfig           `json:"price"`
	Poll   PollConfig                `json:"poll"`

	// Tokens is the whitelist of payable chain/token combinations.
	Tokens []Token `json:"tokens"`

	// ArweaveGateway defaults to https://arweave.net.
	ArweaveGateway string `json:"arweaveGateway,omitempty"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`
}

// Normalized fills defaults and returns the effective configuration.
func (c Config) Normalized() Config {
	if c.ArweaveGateway == "" {
		c.ArweaveGateway = "https://arweave.net"
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 15 * time.Hour
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 7 * 24 * time.Hour
	}
	c.Poll = c.Poll.withDefaults()
	return c
}

// Chain returns the configuration for a chain type, or a configuration
// error when the operator never wired it.
func (c Config) Chain(ct ChainType) (ChainConfig, error) {
	cc, ok := c.Chains[ct]
	if !ok {
		return ChainConfig{}, NewConfigurationError("no chain configuration for chain type %s", ct)
	}
	return cc, nil
}

// FindToken resolves a whitelisted token by its full coordinates. A miss is
// a configuration error: the chain/token combination is not payable.
func (c Config) FindToken(ct ChainType, ticker, chainID string, network Network) (Token, error) {
	for _, t := range c.Tokens {
		if t.ChainType == ct && t.Ticker == ticker && t.ChainID == chainID && t.Network == network {
			return t, nil
		}
	}
	return Token{}, NewConfigurationError(
		"invalid combination of chain type %q and token %q", ct, ticker)
}

// TokenByID looks a token up by its registry id.
func (c Config) TokenByID(id string) (Token, error) {
	for _, t := range c.Tokens {
		if t.ID == id {
			return t, nil
		}
	}
	return Token{}, NewConfigurationError("token %s is not registered", id)
}
