package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"beacon/cmd/identity"
	authapi "beacon/cmd/internal/auth/api"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/realtime"
	"beacon/cmd/security/password"
)

// Config contains all runtime configuration.
type Config struct {
	Env       string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Empty NATSURL keeps emits in process.
	NATSURL     string
	NATSSubject string

	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	ElevatedRole       identity.Role
	IncidentBypassRole identity.Role

	// Seeds an approved super_admin into the in-memory directory when no DB
	// is configured.
	DevAdminIdentifier string
	DevAdminPassword   string

	Session   session.Config
	Passwords password.Config
	Auth      authapi.Config
	Gateway   realtime.GatewayConfig
}

// LoadConfig loads Config from the environment and ./.env.
func LoadConfig() (Config, error) {
	return loadConfig(newEnvSource(".env"))
}

func loadConfig(src envSource) (Config, error) {
	sess, err := session.LoadConfig(src.Lookup)
	if err != nil {
		return Config{}, err
	}
	pw, err := password.FromLookup(src.Lookup)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:       strings.ToLower(src.String("BEACON_ENV", "development")),
		HTTPAddr:  src.String("BEACON_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  src.String("BEACON_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(src.String("BEACON_LOG_FORMAT", "json")),

		ReadHeaderTimeout: src.Duration("BEACON_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       src.Duration("BEACON_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      src.Duration("BEACON_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       src.Duration("BEACON_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    src.Int("BEACON_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   src.Duration("BEACON_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: src.String("BEACON_DATABASE_URL", ""),
		DBSchema:    src.String("BEACON_DB_SCHEMA", "beacon"),
		DBMaxConns:  src.Int32("BEACON_DB_MAX_CONNS", 10),
		DBMinConns:  src.Int32("BEACON_DB_MIN_CONNS", 0),

		ReadinessRequireDB: src.Bool("BEACON_READINESS_REQUIRE_DB", false),

		NATSURL:     src.String("BEACON_NATS_URL", ""),
		NATSSubject: src.String("BEACON_NATS_SUBJECT", realtime.DefaultNATSSubject),

		OTLPEndpoint: src.String("BEACON_OTLP_ENDPOINT", ""),
		OTLPInsecure: src.Bool("BEACON_OTLP_INSECURE", false),
		ServiceName:  src.String("BEACON_SERVICE_NAME", "beacon"),

		CORSAllowedOrigins:   src.List("BEACON_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: src.Bool("BEACON_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    src.Int("BEACON_CORS_MAX_AGE_SECONDS", 600),

		DevAdminIdentifier: src.String("BEACON_DEV_ADMIN_IDENTIFIER", ""),
		DevAdminPassword:   src.String("BEACON_DEV_ADMIN_PASSWORD", ""),

		Session:   sess,
		Passwords: pw,
		Auth:      loadAuthConfig(src),
		Gateway:   loadGatewayConfig(src),
	}

	cfg.ElevatedRole, err = identity.ParseRole(src.String("BEACON_RT_ELEVATED_ROLE", string(realtime.DefaultElevatedRole)))
	if err != nil {
		return Config{}, fmt.Errorf("BEACON_RT_ELEVATED_ROLE: %w", err)
	}
	if v, ok := src.Lookup("BEACON_RT_INCIDENT_BYPASS_ROLE"); ok {
		if cfg.IncidentBypassRole, err = identity.ParseRole(v); err != nil {
			return Config{}, fmt.Errorf("BEACON_RT_INCIDENT_BYPASS_ROLE: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadAuthConfig(src envSource) authapi.Config {
	c := authapi.DefaultConfig()
	c.TrustProxy = src.Bool("BEACON_AUTH_TRUST_PROXY", c.TrustProxy)
	c.MaxBodyBytes = src.Int64("BEACON_AUTH_MAX_BODY_BYTES", c.MaxBodyBytes)
	c.LoginIPMax = src.Int("BEACON_AUTH_LOGIN_IP_MAX", c.LoginIPMax)
	c.LoginIPWindow = src.Duration("BEACON_AUTH_LOGIN_IP_WINDOW", c.LoginIPWindow)
	c.LoginIdentifierWindow = src.Duration("BEACON_AUTH_LOGIN_IDENTIFIER_WINDOW", c.LoginIdentifierWindow)
	c.WebRefreshCookieEnabled = src.Bool("BEACON_AUTH_WEB_REFRESH_COOKIE", c.WebRefreshCookieEnabled)
	c.RefreshCookieName = src.String("BEACON_AUTH_REFRESH_COOKIE_NAME", c.RefreshCookieName)
	c.CSRFCookieName = src.String("BEACON_AUTH_CSRF_COOKIE_NAME", c.CSRFCookieName)
	c.CSRFHeaderName = src.String("BEACON_AUTH_CSRF_HEADER_NAME", c.CSRFHeaderName)
	c.CookiePath = src.String("BEACON_AUTH_COOKIE_PATH", c.CookiePath)
	c.CookieDomain = src.String("BEACON_AUTH_COOKIE_DOMAIN", c.CookieDomain)
	c.CookieSecure = src.Bool("BEACON_AUTH_COOKIE_SECURE", c.CookieSecure)
	if v, ok := src.Lookup("BEACON_AUTH_COOKIE_SAMESITE"); ok {
		c.CookieSameSite = authapi.ParseSameSite(v)
	}
	return c
}

func loadGatewayConfig(src envSource) realtime.GatewayConfig {
	c := realtime.DefaultGatewayConfig()
	c.AllowedOrigins = src.List("BEACON_WS_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.OriginRequired = src.Bool("BEACON_WS_ORIGIN_REQUIRED", c.OriginRequired)
	c.DevInsecure = src.Bool("BEACON_WS_DEV_INSECURE", c.DevInsecure)
	c.SendQueue = src.Int("BEACON_WS_SEND_QUEUE", c.SendQueue)
	c.WriteTimeout = src.Duration("BEACON_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = src.Duration("BEACON_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.HeartbeatInterval = src.Duration("BEACON_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = src.Duration("BEACON_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = src.Int("BEACON_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = src.Duration("BEACON_WS_RATE_WINDOW", c.RateWindow)
	return c
}

// Validate checks cross-cutting settings and each sub-config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: BEACON_HTTP_ADDR must be set")
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: BEACON_LOG_FORMAT must be json or pretty, got %q", c.LogFormat)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return errors.New("config: BEACON_DB_MIN_CONNS exceeds BEACON_DB_MAX_CONNS")
	}
	if !c.ElevatedRole.Valid() {
		return errors.New("config: invalid elevated role")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	return validateSecurityPolicy(*c)
}
