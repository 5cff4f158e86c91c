package authapi

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	LoginIdentifierWindow  time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	// Web clients may keep the refresh token in an HttpOnly cookie guarded
	// by a double-submit CSRF token instead of in the response body.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           1 << 20,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LoginIdentifierWindow:  15 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,

		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "beacon_refresh_token",
		CSRFCookieName:          "beacon_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
	}
}

// Validate checks limits and cookie guardrails. SameSite=None forces Secure.
func (c *Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return errors.New("authapi: max body bytes must be > 0")
	}
	if c.LoginIPMax <= 0 || c.LoginIPWindow <= 0 || c.LoginIdentifierWindow <= 0 {
		return errors.New("authapi: login throttle limits must be > 0")
	}
	if !c.WebRefreshCookieEnabled {
		return nil
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" || strings.TrimSpace(c.CSRFCookieName) == "" {
		return errors.New("authapi: cookie names are required")
	}
	if c.RefreshCookieName == c.CSRFCookieName {
		return errors.New("authapi: csrf cookie name must differ from refresh cookie name")
	}
	if strings.TrimSpace(c.CSRFHeaderName) == "" {
		return errors.New("authapi: csrf header name is required")
	}
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return nil
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

// ParseSameSite maps "strict", "lax", "none" and "default". Anything else is
// Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
