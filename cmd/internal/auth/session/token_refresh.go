package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beacon/cmd/internal/auth/autherr"
)

// RefreshClaims is what a verified refresh token proves: who, and which token.
// It deliberately carries no role.
type RefreshClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// JWTRefreshManager signs refresh tokens as HS256 JWTs.
type JWTRefreshManager struct {
	issuer    string
	key       []byte
	clockSkew time.Duration
}

// NewJWTRefreshManager builds the refresh token manager from cfg.
func NewJWTRefreshManager(cfg Config) (*JWTRefreshManager, error) {
	key := strings.TrimSpace(cfg.RefreshSigningKey)
	if len(key) < 32 {
		return nil, ErrConfig
	}
	return &JWTRefreshManager{issuer: cfg.Issuer, key: []byte(key), clockSkew: cfg.ClockSkew}, nil
}

// Issue mints a refresh token for userID valid for ttl.
func (m *JWTRefreshManager) Issue(userID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	jti, err := newTokenID()
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   userID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry.
func (m *JWTRefreshManager) Verify(token string, now time.Time) (RefreshClaims, error) {
	const op = "session.VerifyRefresh"

	token = strings.TrimSpace(token)
	if token == "" {
		return RefreshClaims{}, autherr.E(op, autherr.ErrAuthMissing, nil)
	}
	if len(token) > maxTokenLen {
		return RefreshClaims{}, autherr.E(op, autherr.ErrAuthMalformed, nil)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return RefreshClaims{}, autherr.E(op, classifyJWTError(err), err)
	}
	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return RefreshClaims{}, autherr.E(op, autherr.ErrAuthMalformed, nil)
	}

	return RefreshClaims{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return autherr.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return autherr.ErrAuthMalformed
	default:
		// Bad signature, wrong alg, wrong issuer, not yet valid.
		return autherr.ErrTokenInvalidSignature
	}
}

// newTokenID returns 128 random bits, base64url. It makes every refresh
// token (and so every stored hash) unique even within one second.
func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
