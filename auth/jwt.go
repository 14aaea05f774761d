package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/permapay/permapay/types"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Claims is the session payload embedded in both access and refresh tokens.
type Claims struct {
	UserID        int64           `json:"userId"`
	WalletAddress string          `json:"walletAddress"`
	ChainType     types.ChainType `json:"chainType"`
	ChainID       string          `json:"chainId"`
	Role          string          `json:"role"`
	TokenUse      string          `json:"tokenUse"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256 session tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer builds an issuer from the auth configuration.
func NewTokenIssuer(cfg types.AuthConfig) (*TokenIssuer, error) {
	if cfg.JWTSecret == "" {
		return nil, types.NewConfigurationError("auth: JWT secret is not configured")
	}
	return &TokenIssuer{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

// Issue mints a fresh access/refresh pair for an identity.
func (t *TokenIssuer) Issue(identity types.Identity) (types.SessionTokens, error) {
	access, err := t.sign(identity, tokenUseAccess, t.accessTTL)
	if err != nil {
		return types.SessionTokens{}, err
	}
	refresh, err := t.sign(identity, tokenUseRefresh, t.refreshTTL)
	if err != nil {
		return types.SessionTokens{}, err
	}
	return types.SessionTokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh validates a refresh token and rotates the full pair. Access tokens
// are rejected here; only refresh tokens can mint new sessions.
func (t *TokenIssuer) Refresh(refreshToken string) (types.SessionTokens, error) {
	claims, err := t.parse(refreshToken)
	if err != nil {
		return types.SessionTokens{}, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return types.SessionTokens{}, types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"token is not a refresh token")
	}
	identity := types.Identity{
		ID:            claims.UserID,
		WalletAddress: claims.WalletAddress,
		ChainType:     claims.ChainType,
		ChainID:       claims.ChainID,
		Role:          claims.Role,
	}
	return t.Issue(identity)
}

// ParseAccess validates an access token and returns its claims.
func (t *TokenIssuer) ParseAccess(accessToken string) (Claims, error) {
	claims, err := t.parse(accessToken)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenUse != tokenUseAccess {
		return Claims{}, types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"token is not an access token")
	}
	return claims, nil
}

func (t *TokenIssuer) sign(identity types.Identity, use string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:        identity.ID,
		WalletAddress: identity.WalletAddress,
		ChainType:     identity.ChainType,
		ChainID:       identity.ChainID,
		Role:          identity.Role,
		TokenUse:      use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.WalletAddress,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) parse(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, types.NewAuthenticationError(types.ReasonSignatureInvalid,
				"unexpected token signing method")
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, types.NewAuthenticationError(types.ReasonSignatureInvalid,
			"session token is invalid or expired")
	}
	return claims, nil
}
