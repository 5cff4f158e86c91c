package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
	"beacon/cmd/internal/auth/guard"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/security/password"
)

type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
	guard    *guard.Guard
	failures *failureLog
	now      func() time.Time
}

type HandlerOption func(*Handler)

// WithClock overrides the handler clock. Tests only.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, g *guard.Guard, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if g == nil {
		return nil, errors.New("authapi: nil guard")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keep := cfg.LoginIdentifierWindow
	if cfg.LoginIPWindow > keep {
		keep = cfg.LoginIPWindow
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		guard:    g,
		failures: newFailureLog(keep),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.Handle("/auth/logout_all", h.guard.Require(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("/auth/password", h.guard.Require(http.HandlerFunc(h.handlePassword)))
	mux.Handle("/auth/sessions", h.guard.Require(http.HandlerFunc(h.handleSessions)))
	mux.Handle("/me", h.guard.Require(http.HandlerFunc(h.handleMe)))
}

func (h *Handler) device(r *http.Request, name, typ string) session.Device {
	return session.Device{
		Name:      strings.TrimSpace(name),
		Type:      session.ParseDeviceType(typ),
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	ident := identity.NormalizeIdentifier(req.Identifier)
	if ident == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier and password are required")
		return
	}

	now := h.now()
	dev := h.device(r, req.DeviceName, req.DeviceType)
	ipKey := "ip:" + ipAttr(dev.IP)
	identKey := "id:" + ident

	// Both throttles run before the directory lookup.
	if blocked, retry := evaluateWindowThrottle(now, h.failures.recent(ipKey, now, h.cfg.LoginIPWindow), h.cfg.LoginIPMax, h.cfg.LoginIPWindow); blocked {
		h.auditLoginThrottled(dev.IP, "ip")
		writeRateLimited(w, retry)
		return
	}
	if blocked, retry := evaluateProgressiveLockout(now, h.failures.recent(identKey, now, h.cfg.LoginIdentifierWindow), h.cfg.lockoutTiers()); blocked {
		h.auditLoginThrottled(dev.IP, "identifier")
		writeRateLimited(w, retry)
		return
	}

	issued, user, err := h.sessions.Login(r.Context(), now, session.LoginInput{
		Identifier: ident,
		Secret:     req.Password,
		Device:     dev,
	})
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			h.failures.record(ipKey, now)
			h.failures.record(identKey, now)
		}
		h.auditLoginFailed(dev.IP, dev.UserAgent, err)
		guard.WriteError(w, err)
		return
	}
	h.failures.reset(identKey)
	h.auditLoginSuccess(user.ID, issued.SessionID, dev.IP, dev.UserAgent)

	resp, ok := h.sessionBody(w, issued, dev.Type)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(user), Session: resp})
}

// sessionBody builds the session payload, moving the refresh token into
// cookies for web devices when cookie transport is on.
func (h *Handler) sessionBody(w http.ResponseWriter, issued session.Issued, dev session.DeviceType) (sessionResponse, bool) {
	resp := toSessionResponse(issued)
	if !h.cookieTransport(dev) {
		return resp, true
	}
	csrf, err := h.issueWebCookies(w, issued.RefreshToken, issued.RefreshExp)
	if err != nil {
		h.log.Error("auth.web_cookie.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return sessionResponse{}, false
	}
	resp.RefreshToken = ""
	resp.CSRFToken = csrf
	return resp, true
}

// refreshTokenFrom reads the token from the JSON body, falling back to the
// web cookie. It writes the error response itself when it returns false.
func (h *Handler) refreshTokenFrom(w http.ResponseWriter, r *http.Request, bodyToken string) (string, bool, bool) {
	if tok := strings.TrimSpace(bodyToken); tok != "" {
		return tok, false, true
	}
	tok, csrfOK := h.cookieRefreshToken(r)
	if tok == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return "", false, false
	}
	if !csrfOK {
		writeError(w, http.StatusForbidden, "csrf_failed", "csrf validation failed")
		return "", false, false
	}
	return tok, true, true
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	tok, fromCookie, ok := h.refreshTokenFrom(w, r, req.RefreshToken)
	if !ok {
		return
	}

	dev := h.device(r, req.DeviceName, req.DeviceType)
	if fromCookie {
		dev.Type = session.DeviceWeb
	}
	issued, err := h.sessions.Refresh(r.Context(), h.now(), tok, dev)
	if err != nil {
		if fromCookie && autherr.HTTPStatus(err) == http.StatusUnauthorized {
			h.clearWebCookies(w)
		}
		h.auditRefreshRejected(dev.IP, err)
		guard.WriteError(w, err)
		return
	}

	resp, ok := h.sessionBody(w, issued, dev.Type)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	tok, fromCookie, ok := h.refreshTokenFrom(w, r, req.RefreshToken)
	if !ok {
		return
	}
	if fromCookie {
		h.clearWebCookies(w)
	}

	if err := h.sessions.Logout(r.Context(), h.now(), tok); err != nil {
		guard.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, _ := guard.PrincipalFrom(r.Context())

	n, err := h.sessions.LogoutAll(r.Context(), h.now(), p.UserID)
	if err != nil {
		guard.WriteError(w, err)
		return
	}
	h.clearWebCookies(w)
	h.auditLogoutAll(p.UserID, n)
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, _ := guard.PrincipalFrom(r.Context())

	var req passwordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}

	n, err := h.sessions.ChangePassword(r.Context(), h.now(), p.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	case autherr.KindOf(err) != nil:
		guard.WriteError(w, err)
		return
	default:
		h.log.Error("auth.password.fail", "user_id", p.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.clearWebCookies(w)
	h.auditPasswordChanged(p.UserID, n)
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, _ := guard.PrincipalFrom(r.Context())

	recs, err := h.sessions.ActiveSessions(r.Context(), h.now(), p.UserID)
	if err != nil {
		guard.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: toActiveSessions(recs)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, _ := guard.PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{User: principalResponse(p)})
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the left-most parseable X-Forwarded-For entry.
func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
