package types

// ChainType discriminates the signature scheme and RPC shape of a supported
// blockchain family.
type ChainType string

const (
	// ChainEVM covers account-based EVM chains (EIP-191 signatures,
	// JSON-RPC receipts, ERC-20 transfer logs).
	ChainEVM ChainType = "evm"

	// ChainSolana covers ed25519 ledger chains (base58 addresses,
	// system-program transfers).
	ChainSolana ChainType = "solana"

	// ChainArweave covers the content-addressed ledger (RSA-PSS wallets,
	// winston-denominated native transfers).
	ChainArweave ChainType = "arweave"

	// ChainCosmos covers Cosmos SDK chains (ADR-36 offline signing,
	// bank-module transfer events).
	ChainCosmos ChainType = "cosmos"
)

func (c ChainType) String() string { return string(c) }

// Valid reports whether the chain type is one of the four supported families.
func (c ChainType) Valid() bool {
	switch c {
	case ChainEVM, ChainSolana, ChainArweave, ChainCosmos:
		return true
	}
	return false
}

// Network distinguishes production from test deployments of a chain.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// DefaultEVMEndpoints maps well-known EVM chain ids to RPC prefixes. The
// configuration table takes precedence; this map only backs chains the
// operator has not overridden.
var DefaultEVMEndpoints = map[int64]string{
	1:     "https://eth-mainnet.g.alchemy.com/v2",
	8453:  "https://base-mainnet.g.alchemy.com/v2",
	84532: "https://base-sepolia.g.alchemy.com/v2",
}
