package authapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"beacon/cmd/internal/auth/session"
)

// cookieTransport reports whether the refresh token for dev travels in an
// HttpOnly cookie rather than in the JSON body.
func (h *Handler) cookieTransport(dev session.DeviceType) bool {
	return h.cfg.WebRefreshCookieEnabled && dev == session.DeviceWeb
}

// issueWebCookies sets the refresh and CSRF cookies and returns the CSRF
// value the client must echo in CSRFHeaderName.
func (h *Handler) issueWebCookies(w http.ResponseWriter, refreshToken string, exp time.Time) (string, error) {
	csrf, err := newOpaqueWebToken(32)
	if err != nil {
		return "", err
	}
	h.setCookie(w, h.cfg.RefreshCookieName, refreshToken, exp, true)
	h.setCookie(w, h.cfg.CSRFCookieName, csrf, exp, false)
	return csrf, nil
}

func (h *Handler) clearWebCookies(w http.ResponseWriter) {
	if !h.cfg.WebRefreshCookieEnabled {
		return
	}
	h.setCookie(w, h.cfg.RefreshCookieName, "", time.Unix(0, 0).UTC(), true)
	h.setCookie(w, h.cfg.CSRFCookieName, "", time.Unix(0, 0).UTC(), false)
}

// cookieRefreshToken returns the refresh cookie value. A cookie-borne token
// is only usable with a matching CSRF header.
func (h *Handler) cookieRefreshToken(r *http.Request) (tok string, csrfOK bool) {
	if !h.cfg.WebRefreshCookieEnabled {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	tok = strings.TrimSpace(c.Value)
	if tok == "" {
		return "", false
	}
	return tok, h.csrfValid(r)
}

func (h *Handler) csrfValid(r *http.Request) bool {
	c, err := r.Cookie(h.cfg.CSRFCookieName)
	if err != nil {
		return false
	}
	return secureStringEqual(strings.TrimSpace(c.Value), strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName)))
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
	if value == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

func newOpaqueWebToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
