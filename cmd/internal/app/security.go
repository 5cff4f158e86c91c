package app

import (
	"errors"
	"slices"

	"beacon/cmd/security/token"
)

// validateSecurityPolicy enforces production-only guardrails at startup.
// Development keeps the permissive defaults.
func validateSecurityPolicy(cfg Config) error {
	if cfg.Env != "production" {
		return nil
	}
	if !cfg.Session.RequireTokenHMAC {
		return errors.New("security policy: production requires BEACON_TOKEN_HMAC_REQUIRED=true")
	}
	if _, err := token.NewHasher(cfg.Session.TokenHMACKey, true); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: BEACON_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: BEACON_TOKEN_HMAC_KEY is too short")
		default:
			return err
		}
	}
	if cfg.DatabaseURL == "" {
		return errors.New("security policy: production requires BEACON_DATABASE_URL")
	}
	if cfg.Gateway.DevInsecure || slices.Contains(cfg.Gateway.AllowedOrigins, "*") {
		return errors.New("security policy: production forbids insecure websocket origin settings")
	}
	if !cfg.Gateway.OriginRequired {
		return errors.New("security policy: production requires BEACON_WS_ORIGIN_REQUIRED=true")
	}
	if cfg.Auth.WebRefreshCookieEnabled && !cfg.Auth.CookieSecure {
		return errors.New("security policy: production requires secure auth cookies")
	}
	if cfg.DevAdminIdentifier != "" {
		return errors.New("security policy: BEACON_DEV_ADMIN_IDENTIFIER is development only")
	}
	return nil
}
