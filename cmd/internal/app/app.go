// Package app wires the Beacon server runtime: config, logging, storage,
// the auth API and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"beacon/cmd/identity"
	authapi "beacon/cmd/internal/auth/api"
	"beacon/cmd/internal/auth/guard"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/realtime"
)

// App is the Beacon server runtime.
type App struct {
	cfg Config
	log Logger

	pool   *pgxpool.Pool
	tracer *sdktrace.TracerProvider

	metrics     *prometheus.Registry
	httpMetrics *httpMetrics

	users    identity.Directory
	sessions *session.Service
	sweeper  *session.Sweeper
	auth     *authapi.Handler

	bus        realtime.Bus
	nats       *realtime.NATSBus
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	gateway    *realtime.Gateway

	handler http.Handler
}

// New constructs a fully wired App. Without BEACON_DATABASE_URL the user
// directory and session store live in memory.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(nil, cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.httpMetrics = newHTTPMetrics(a.metrics)

	if a.tracer, err = newTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure); err != nil {
		return nil, err
	}

	var (
		store session.Store
		authz realtime.RoomAuthorizer
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := identity.NewMemoryDirectory()
		if err := seedDevAdmin(ctx, cfg, mem); err != nil {
			return nil, err
		}
		a.users, store, authz = mem, session.NewMemoryStore(), realtime.DenyDomainRooms
	} else {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		if a.users, err = identity.NewPostgresDirectory(a.pool, identity.WithSchema(cfg.DBSchema)); err != nil {
			return nil, err
		}
		store = session.NewPostgresStore(a.pool, cfg.DBSchema)
		opts := []realtime.PostgresAuthorizerOption{realtime.WithAuthorizerSchema(cfg.DBSchema)}
		if cfg.IncidentBypassRole != "" {
			opts = append(opts, realtime.WithIncidentBypass(cfg.IncidentBypassRole))
		}
		if authz, err = realtime.NewPostgresRoomAuthorizer(a.pool, opts...); err != nil {
			return nil, err
		}
	}

	a.sessions, err = session.NewService(cfg.Session, store, a.users,
		session.WithLogger(log),
		session.WithPasswords(cfg.Passwords),
		session.WithTracerProvider(a.tracer),
		session.WithMetrics(session.NewMetrics(a.metrics)),
	)
	if err != nil {
		return nil, err
	}
	a.sweeper = session.NewSweeper(a.sessions, log)

	g := guard.New(a.sessions.AccessTokens(), a.users, log)
	if a.auth, err = authapi.NewHandler(log, cfg.Auth, a.sessions, g); err != nil {
		return nil, err
	}

	if cfg.NATSURL != "" {
		if a.nats, err = realtime.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, log); err != nil {
			return nil, err
		}
		a.bus = a.nats
	} else {
		a.bus = realtime.NewLocalBus(0)
	}

	rt := []realtime.Option{
		realtime.WithLogger(log),
		realtime.WithMetrics(realtime.NewMetrics(a.metrics)),
		realtime.WithElevatedRole(cfg.ElevatedRole),
	}
	a.registry = realtime.NewRegistry(a.bus, rt...)
	a.dispatcher = realtime.NewDispatcher(a.registry, authz, rt...)
	if a.gateway, err = realtime.NewGateway(cfg.Gateway, g, a.registry, a.dispatcher, rt...); err != nil {
		return nil, err
	}

	a.handler = a.routes()
	return a, nil
}

// seedDevAdmin creates an approved super_admin in the in-memory directory.
func seedDevAdmin(ctx context.Context, cfg Config, users *identity.MemoryDirectory) error {
	if cfg.DevAdminIdentifier == "" {
		return nil
	}
	hash, err := cfg.Passwords.Hash(cfg.DevAdminPassword)
	if err != nil {
		return fmt.Errorf("dev admin: %w", err)
	}
	_, err = users.Upsert(ctx, identity.User{
		Identifier:   cfg.DevAdminIdentifier,
		DisplayName:  "Dev Admin",
		Role:         identity.RoleSuperAdmin,
		Status:       identity.StatusApproved,
		PasswordHash: hash,
	}, time.Now().UTC())
	return err
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Emitter is the broadcast surface handed to domain modules.
func (a *App) Emitter() realtime.Emitter { return a.dispatcher }

// Run serves HTTP and runs the bus consumer and session sweeper until ctx is
// done or one of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bus.Run(gctx, func(m realtime.Message) { a.registry.Deliver(m) })
	})
	g.Go(func() error { return a.sweeper.Run(gctx) })
	g.Go(func() error {
		base := runtimeBaseURL(a.cfg.HTTPAddr)
		a.log.Info("server.start",
			"addr", a.cfg.HTTPAddr,
			"base_url", base,
			"ws_url", wsBaseURL(base)+"/ws",
			"db_enabled", a.pool != nil,
			"nats_enabled", a.nats != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		// Hijacked websocket connections are not covered by srv.Shutdown.
		if err := a.gateway.Close(shutdownCtx); err != nil {
			a.log.Warn("realtime.gateway.close.fail", "err", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.close(closeCtx)

	a.log.Info("server.stopped")
	return err
}

func (a *App) close(ctx context.Context) {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.log.Warn("realtime.nats.close.fail", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Warn("telemetry.shutdown.fail", "err", err)
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
