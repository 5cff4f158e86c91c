package realtime

import (
	"log/slog"
	"time"

	"beacon/cmd/identity"
)

// DefaultElevatedRole is the lowest role that auto-joins monitoring.
const DefaultElevatedRole = identity.RolePolice

type settings struct {
	log      *slog.Logger
	metrics  *Metrics
	elevated identity.Role
	now      func() time.Time
}

// Option configures a Registry, Dispatcher or Gateway.
type Option func(*settings)

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithElevatedRole sets the monitoring threshold. Invalid roles are ignored.
func WithElevatedRole(r identity.Role) Option {
	return func(s *settings) {
		if r.Valid() {
			s.elevated = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		log:      slog.Default(),
		elevated: DefaultElevatedRole,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
