// Package auth implements nonce-challenge wallet authentication: a nonce is
// issued per wallet, embedded by the client into a human-readable message,
// signed with the wallet key and verified by the chain adapter. A nonce is
// consumed only by a successful verification.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/permapay/permapay/chains"
	"github.com/permapay/permapay/logger"
	"github.com/permapay/permapay/metrics"
	"github.com/permapay/permapay/store"
	"github.com/permapay/permapay/types"
)

const nonceBytes = 16

// Service owns the nonce lifecycle and signature verification.
type Service struct {
	identities store.IdentityStore
	registry   *chains.Registry
	tokens     *TokenIssuer
	log        logger.Logger
	metrics    metrics.Recorder
}

// NewService wires the authentication service.
func NewService(identities store.IdentityStore, registry *chains.Registry, tokens *TokenIssuer, log logger.Logger, rec metrics.Recorder) *Service {
	return &Service{
		identities: identities,
		registry:   registry,
		tokens:     tokens,
		log:        log,
		metrics:    rec,
	}
}

// GenerateNonce issues a fresh random nonce for a wallet, creating the
// identity on first contact. A new nonce always overwrites any unconsumed
// one.
func (s *Service) GenerateNonce(ctx context.Context, walletAddress string, chainType types.ChainType, chainID string) (string, error) {
	if !chainType.Valid() {
		return "", types.NewConfigurationError("unsupported chain type %q", chainType)
	}
	if _, err := s.registry.Get(chainType); err != nil {
		return "", err
	}

	identity, err := s.identities.FindOrCreate(ctx, walletAddress, chainType, chainID)
	if err != nil {
		return "", err
	}

	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)

	if err := s.identities.SetNonce(ctx, identity.WalletAddress, nonce); err != nil {
		return "", err
	}

	s.log.Debug("nonce issued", map[string]any{
		"wallet":     walletAddress,
		"chain_type": chainType,
	})
	s.metrics.IncCounter("nonce_issued", map[string]string{"chain_type": string(chainType)})
	return nonce, nil
}

// VerifyWallet verifies a signed challenge for a wallet and, on success,
// consumes the nonce, records the signature and issues a session token
// pair. On any failure the nonce stays in place.
func (s *Service) VerifyWallet(ctx context.Context, walletAddress string, req types.VerifyAuthRequest) (types.Identity, types.SessionTokens, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return types.Identity{}, types.SessionTokens{}, err
	}

	identity, err := s.identities.FindByWallet(ctx, walletAddress)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.Identity{}, types.SessionTokens{}, types.NewAuthenticationError(
				types.ReasonNonceMismatch, "no challenge was issued for wallet %s", walletAddress)
		}
		return types.Identity{}, types.SessionTokens{}, err
	}
	if identity.ChainType != req.ChainType {
		return types.Identity{}, types.SessionTokens{}, types.NewConfigurationError(
			"wallet %s is registered on chain type %s, not %s", walletAddress, identity.ChainType, req.ChainType)
	}

	adapter, err := s.registry.Get(identity.ChainType)
	if err != nil {
		return types.Identity{}, types.SessionTokens{}, err
	}

	if err := adapter.VerifySignature(ctx, identity, req.SignedMessage, req.Signature, req.PublicKey); err != nil {
		s.log.Warn("signature verification failed", map[string]any{
			"wallet":     walletAddress,
			"chain_type": identity.ChainType,
			"error":      err.Error(),
		})
		s.metrics.IncCounter("auth_rejected", map[string]string{"chain_type": string(identity.ChainType)})
		return types.Identity{}, types.SessionTokens{}, err
	}

	if err := s.identities.ClearNonce(ctx, walletAddress); err != nil {
		return types.Identity{}, types.SessionTokens{}, err
	}
	if err := s.identities.SetLastSignature(ctx, walletAddress, req.Signature); err != nil {
		return types.Identity{}, types.SessionTokens{}, err
	}

	session, err := s.tokens.Issue(identity)
	if err != nil {
		return types.Identity{}, types.SessionTokens{}, err
	}

	s.log.Info("wallet authenticated", map[string]any{
		"wallet":     walletAddress,
		"chain_type": identity.ChainType,
	})
	s.metrics.IncCounter("auth_verified", map[string]string{"chain_type": string(identity.ChainType)})
	s.metrics.ObserveLatency("verify_wallet", time.Since(start), map[string]string{"chain_type": string(identity.ChainType)})
	return identity, session, nil
}

// RefreshSession rotates a session from its refresh token.
func (s *Service) RefreshSession(refreshToken string) (types.SessionTokens, error) {
	return s.tokens.Refresh(refreshToken)
}
