package guard

import (
	"context"
	"encoding/json"
	"net/http"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
)

type ctxKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal set by Require or Optional.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Require rejects the request unless it carries a valid token for an
// approved user.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole is Require plus a minimum role check.
func (g *Guard) RequireRole(min identity.Role, next http.Handler) http.Handler {
	return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		if !p.Role.AtLeast(min) {
			WriteError(w, autherr.E("guard.RequireRole", autherr.ErrRoomAccessDenied, nil))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// Optional attaches a principal when the request has a usable token and
// passes through anonymously on any failure, directory outages included.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if h == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := g.Authenticate(r.Context(), h)
		switch {
		case err == nil:
			r = r.WithContext(WithPrincipal(r.Context(), p))
		case autherr.Retryable(err):
			g.log.Warn("auth.optional.degraded", "err", err)
		}
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// WriteError renders err in the API error envelope.
func WriteError(w http.ResponseWriter, err error) {
	status := autherr.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
	}
	if autherr.Retryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiError{
		Code:      autherr.Code(err),
		Message:   autherr.UserMessage(err),
		Retryable: autherr.Retryable(err),
	}})
}
