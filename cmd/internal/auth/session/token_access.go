package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
)

// AccessClaims is the identity envelope carried by an access token.
// Role is informational; guarded paths re-read it from the directory.
type AccessClaims struct {
	UserID    string
	Role      identity.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(userID string, role identity.Role, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

const maxTokenLen = 4096

// PasetoAccessManager signs access tokens as PASETO v4.public (Ed25519).
type PasetoAccessManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoAccessManager builds the access token manager from cfg.
func NewPasetoAccessManager(cfg Config) (*PasetoAccessManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.PasetoV4SecretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	return &PasetoAccessManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *PasetoAccessManager) PublicKeyHex() string { return m.public.ExportHex() }

func (m *PasetoAccessManager) Issue(userID string, role identity.Role, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", userID)
	tok.SetString("role", string(role))

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks signature, issuer and time claims, and classifies failures
// into the autherr taxonomy. Expiry is checked here rather than by a parser
// rule so an expired token is reported as expired, not as invalid.
func (m *PasetoAccessManager) Verify(token string, now time.Time) (AccessClaims, error) {
	const op = "session.VerifyAccess"

	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMissing, nil)
	}
	if !looksLikeV4Public(token) {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMalformed, nil)
	}

	parsed, err := paseto.NewParserWithoutExpiryCheck().ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, autherr.E(op, autherr.ErrTokenInvalidSignature, err)
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMalformed, err)
	}
	if !now.Add(-m.clockSkew).Before(exp) {
		return AccessClaims{}, autherr.E(op, autherr.ErrTokenExpired, nil)
	}
	if nbf, err := parsed.GetNotBefore(); err == nil && now.Add(m.clockSkew).Before(nbf) {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMalformed, nil)
	}

	iss, _ := parsed.GetIssuer()
	if iss != m.issuer {
		return AccessClaims{}, autherr.E(op, autherr.ErrTokenInvalidSignature, nil)
	}

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMalformed, err)
	}
	role, err := parsed.GetString("role")
	if err != nil || !identity.Role(role).Valid() {
		return AccessClaims{}, autherr.E(op, autherr.ErrAuthMalformed, err)
	}
	iat, _ := parsed.GetIssuedAt()

	return AccessClaims{
		UserID:    uid,
		Role:      identity.Role(role),
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}

// looksLikeV4Public checks the "v4.public.<payload>[.<footer>]" shape.
func looksLikeV4Public(tok string) bool {
	if len(tok) > maxTokenLen || !strings.HasPrefix(tok, "v4.public.") {
		return false
	}
	n := strings.Count(tok, ".")
	return n == 2 || n == 3
}
