package realtime

import (
	"errors"
	"time"
)

// GatewayConfig holds WebSocket gateway limits and origin policy.
type GatewayConfig struct {
	// AllowedOrigins is matched against the Origin header by full origin or
	// by host. "*" allows any origin.
	AllowedOrigins []string
	OriginRequired bool
	// DevInsecure disables coder/websocket's own origin verification.
	DevInsecure bool

	SendQueue       int
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:    false,
		SendQueue:         defaultSendQueue,
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// Validate rejects unusable limits. A send queue below the floor is raised
// rather than rejected.
func (c *GatewayConfig) Validate() error {
	if c.SendQueue < minSendQueue {
		c.SendQueue = minSendQueue
	}
	switch {
	case c.WriteTimeout <= 0:
		return errors.New("realtime: write timeout must be > 0")
	case c.ReadIdleTimeout <= 0:
		return errors.New("realtime: read idle timeout must be > 0")
	case c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0:
		return errors.New("realtime: heartbeat interval and timeout must be > 0")
	case c.HeartbeatTimeout >= c.HeartbeatInterval:
		return errors.New("realtime: heartbeat timeout must be shorter than the interval")
	case c.RateEvents <= 0 || c.RateWindow <= 0:
		return errors.New("realtime: rate limit must be > 0")
	}
	return nil
}
