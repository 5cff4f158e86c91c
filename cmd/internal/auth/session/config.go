package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls token lifetimes, signing keys and session retention.
type Config struct {
	// Issuer is set as "iss" on both token kinds.
	Issuer string

	AccessTokenTTL time.Duration

	// RefreshTTLWeb applies to browser sessions; RefreshTTLNative to the
	// mobile and desktop apps used in the field.
	RefreshTTLWeb    time.Duration
	RefreshTTLNative time.Duration

	// ClockSkew is tolerated on exp/nbf checks.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex Ed25519 secret key signing access tokens.
	PasetoV4SecretKeyHex string

	// RefreshSigningKey is the HS256 key for refresh JWTs (>= 32 bytes).
	RefreshSigningKey string

	// TokenHMACKey keys the stored refresh-token hash. Blank means SHA-256.
	TokenHMACKey     string
	RequireTokenHMAC bool

	// Retention is how long expired or revoked records are kept before the
	// sweeper deletes them.
	Retention     time.Duration
	SweepInterval time.Duration

	// RevokeFamilyOnReuse revokes every session of a user when an already
	// rotated refresh token is presented again.
	RevokeFamilyOnReuse bool
}

// DefaultConfig returns development defaults. Keys are left blank.
func DefaultConfig() Config {
	return Config{
		Issuer:           "beacon",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTTLWeb:    7 * 24 * time.Hour,
		RefreshTTLNative: 30 * 24 * time.Hour,
		ClockSkew:        30 * time.Second,
		Retention:        30 * 24 * time.Hour,
		SweepInterval:    time.Hour,
	}
}

// Validate checks invariants. All failures wrap ErrConfig.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	case c.AccessTokenTTL <= 0 || c.AccessTokenTTL > 24*time.Hour:
		return fmt.Errorf("%w: access ttl must be in (0, 24h]", ErrConfig)
	case c.RefreshTTLWeb <= c.AccessTokenTTL || c.RefreshTTLNative <= c.AccessTokenTTL:
		return fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrConfig)
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return fmt.Errorf("%w: clock skew must be in [0, 5m]", ErrConfig)
	case strings.TrimSpace(c.PasetoV4SecretKeyHex) == "":
		return fmt.Errorf("%w: paseto secret key is required", ErrConfig)
	case len(strings.TrimSpace(c.RefreshSigningKey)) < 32:
		return fmt.Errorf("%w: refresh signing key must be at least 32 bytes", ErrConfig)
	case c.Retention < 0:
		return fmt.Errorf("%w: retention must be >= 0", ErrConfig)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep interval must be >= 0", ErrConfig)
	}
	return nil
}

// LookupFunc resolves a configuration key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadConfigFromEnv loads the config from process environment variables.
func LoadConfigFromEnv() (Config, error) { return LoadConfig(os.LookupEnv) }

// LoadConfig loads and validates the config through lookup.
//
// Required: BEACON_PASETO_V4_SECRET_KEY_HEX, BEACON_REFRESH_SIGNING_KEY.
//
// Optional: BEACON_AUTH_ISSUER, BEACON_AUTH_ACCESS_TTL,
// BEACON_AUTH_REFRESH_TTL_WEB, BEACON_AUTH_REFRESH_TTL_NATIVE,
// BEACON_AUTH_CLOCK_SKEW, BEACON_TOKEN_HMAC_KEY, BEACON_TOKEN_HMAC_REQUIRED,
// BEACON_AUTH_SESSION_RETENTION, BEACON_AUTH_SWEEP_INTERVAL,
// BEACON_AUTH_REVOKE_FAMILY_ON_REUSE.
func LoadConfig(lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}

	if v := get("BEACON_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BEACON_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL},
		{"BEACON_AUTH_REFRESH_TTL_WEB", &cfg.RefreshTTLWeb},
		{"BEACON_AUTH_REFRESH_TTL_NATIVE", &cfg.RefreshTTLNative},
		{"BEACON_AUTH_CLOCK_SKEW", &cfg.ClockSkew},
		{"BEACON_AUTH_SESSION_RETENTION", &cfg.Retention},
		{"BEACON_AUTH_SWEEP_INTERVAL", &cfg.SweepInterval},
	}
	for _, d := range durations {
		v := get(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, d.key, err)
		}
		*d.dst = parsed
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"BEACON_TOKEN_HMAC_REQUIRED", &cfg.RequireTokenHMAC},
		{"BEACON_AUTH_REVOKE_FAMILY_ON_REUSE", &cfg.RevokeFamilyOnReuse},
	}
	for _, b := range bools {
		v := get(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: invalid boolean", ErrConfig, b.key)
		}
		*b.dst = parsed
	}

	cfg.PasetoV4SecretKeyHex = get("BEACON_PASETO_V4_SECRET_KEY_HEX")
	cfg.RefreshSigningKey = get("BEACON_REFRESH_SIGNING_KEY")
	cfg.TokenHMACKey = get("BEACON_TOKEN_HMAC_KEY")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
