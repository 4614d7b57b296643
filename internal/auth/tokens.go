// Package auth issues and verifies credentials and resolves them to
// identities.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

var (
	// ErrMissingToken is returned when no credential was supplied.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned for malformed or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrMissingSecret is returned when a TokenManager has no signing key.
	ErrMissingSecret = errors.New("token signing secret is empty")
)

const (
	accessTokenType  = "access"
	refreshTokenType = "refresh"
)

// TokenConfig holds the signing parameters.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims are the custom claims carried by every token. Role is recorded
// at issuance for clients; the server never authorizes on it. SessionID
// binds the token to a revocable session.
type Claims struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      role.Role `json:"role"`
	SessionID string    `json:"session_id"`
	TokenType string    `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(config TokenConfig) (*TokenManager, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	return &TokenManager{config: config, now: time.Now}, nil
}

// IssueAccess signs an access token for u within session sessionID.
func (m *TokenManager) IssueAccess(u *chat.User, sessionID string) (string, error) {
	return m.issue(u, sessionID, accessTokenType, m.config.AccessTTL)
}

// IssueRefresh signs a refresh token for u within session sessionID.
func (m *TokenManager) IssueRefresh(u *chat.User, sessionID string) (string, error) {
	return m.issue(u, sessionID, refreshTokenType, m.config.RefreshTTL)
}

func (m *TokenManager) issue(u *chat.User, sessionID, tokenType string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		SessionID: sessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   u.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// Verify checks signature, expiry and issuer and returns the claims.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(m.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (m *TokenManager) VerifyAccess(token string) (*Claims, error) {
	return m.verifyType(token, accessTokenType)
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (m *TokenManager) VerifyRefresh(token string) (*Claims, error) {
	return m.verifyType(token, refreshTokenType)
}

func (m *TokenManager) verifyType(token, tokenType string) (*Claims, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AccessTTL returns the access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// RefreshTTL returns the refresh token lifetime, which is also how long a
// session lives without a refresh.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}
