package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// Max bytes per inbound websocket frame.
	maxFrameBytes = 16 << 10

	defaultSendQueue = 256
	minSendQueue     = 32

	defaultBusBuffer = 4096

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound budget: rateLimitEvents per rateLimitWindow.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)

// newConnLimiter refills evenly across window with a burst of events.
func newConnLimiter(events int, window time.Duration) *rate.Limiter {
	if events <= 0 {
		events = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(events)), events)
}
