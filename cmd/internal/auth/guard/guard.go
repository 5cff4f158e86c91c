package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
	"beacon/cmd/internal/auth/session"
)

// Verifier checks an access token and returns its claims.
type Verifier interface {
	Verify(token string, now time.Time) (session.AccessClaims, error)
}

// Principal is the authenticated caller. Role and Status come from the
// directory, never from the token.
type Principal struct {
	UserID      string
	DisplayName string
	Role        identity.Role
	Status      identity.Status
}

type Guard struct {
	verifier Verifier
	users    identity.Directory
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func New(verifier Verifier, users identity.Directory, log *slog.Logger, opts ...Option) *Guard {
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{verifier: verifier, users: users, log: log, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ExtractBearer pulls the token out of an Authorization header value.
// An empty header is ErrAuthMissing; any other shape is ErrAuthMalformed.
func ExtractBearer(header string) (string, error) {
	const op = "guard.ExtractBearer"

	header = strings.TrimSpace(header)
	if header == "" {
		return "", autherr.E(op, autherr.ErrAuthMissing, nil)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", autherr.E(op, autherr.ErrAuthMalformed, nil)
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return "", autherr.E(op, autherr.ErrAuthMalformed, nil)
	}
	return tok, nil
}

// Authenticate validates an Authorization header value.
func (g *Guard) Authenticate(ctx context.Context, header string) (Principal, error) {
	tok, err := ExtractBearer(header)
	if err != nil {
		return Principal{}, err
	}
	return g.AuthenticateToken(ctx, tok)
}

// AuthenticateToken validates a raw access token, then loads the user so a
// suspension or role change applies on the very next request.
func (g *Guard) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	const op = "guard.Authenticate"

	claims, err := g.verifier.Verify(token, g.now().UTC())
	if err != nil {
		return Principal{}, err
	}

	u, err := g.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Principal{}, autherr.E(op, autherr.ErrSessionNotFound, err)
		}
		g.log.Error("guard.directory_unavailable", "user_id", claims.UserID, "err", err)
		return Principal{}, autherr.Unavailable(op, err)
	}
	if err := session.StatusError(op, u.Status); err != nil {
		return Principal{}, err
	}

	if u.Role != claims.Role {
		g.log.Debug("guard.role_changed", "user_id", u.ID, "token_role", string(claims.Role), "role", string(u.Role))
	}

	return Principal{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Status:      u.Status,
	}, nil
}
