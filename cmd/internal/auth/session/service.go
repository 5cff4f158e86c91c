package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"beacon/cmd/identity"
	"beacon/cmd/identity/ids"
	"beacon/cmd/internal/auth/autherr"
	"beacon/cmd/security/password"
	"beacon/cmd/security/token"
)

// Issued is the result of a login or a rotation.
type Issued struct {
	SessionID    string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// LoginInput is a credential presentation from one device.
type LoginInput struct {
	Identifier string
	Secret     string
	Device     Device
}

// Service is the credential and token lifecycle manager.
type Service struct {
	cfg       Config
	access    AccessTokenManager
	refresh   *JWTRefreshManager
	hasher    token.Hasher
	store     Store
	users     identity.Directory
	passwords password.Config

	log     *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	// dummyHash is verified against when the identifier is unknown so both
	// failure paths cost one password verification.
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPasswords overrides the password hashing config.
func WithPasswords(p password.Config) Option {
	return func(s *Service) { s.passwords = p }
}

// WithTracerProvider sets the tracer provider (default otel global).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer("beacon/session")
		}
	}
}

// WithMetrics attaches lifecycle counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAccessTokens replaces the PASETO manager built from cfg.
func WithAccessTokens(m AccessTokenManager) Option {
	return func(s *Service) {
		if m != nil {
			s.access = m
		}
	}
}

// NewService builds a Service. cfg is validated and the token managers are
// derived from it.
func NewService(cfg Config, store Store, users identity.Directory, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || users == nil {
		return nil, errors.New("session: nil store or directory")
	}

	access, err := NewPasetoAccessManager(cfg)
	if err != nil {
		return nil, err
	}
	refresh, err := NewJWTRefreshManager(cfg)
	if err != nil {
		return nil, err
	}
	hasher, err := token.NewHasher(cfg.TokenHMACKey, cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		access:    access,
		refresh:   refresh,
		hasher:    hasher,
		store:     store,
		users:     users,
		passwords: password.DefaultConfig(),
		log:       slog.Default(),
		tracer:    otel.GetTracerProvider().Tracer("beacon/session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := s.passwords.Hash("beacon-timing-equalizer-" + hasher.Hash("dummy")[:16])
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// AccessTokens exposes the access token manager (the guard verifies with it).
func (s *Service) AccessTokens() AccessTokenManager { return s.access }

// HashRefreshToken returns the stored form of a refresh token.
func (s *Service) HashRefreshToken(tok string) string { return s.hasher.Hash(strings.TrimSpace(tok)) }

func (s *Service) refreshTTL(d DeviceType) time.Duration {
	switch d {
	case DeviceIOS, DeviceAndroid, DeviceDesktop:
		return s.cfg.RefreshTTLNative
	default:
		return s.cfg.RefreshTTLWeb
	}
}

func (s *Service) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, op)
}

func (s *Service) finish(span trace.Span, op string, err error) {
	s.metrics.observe(op, err)
	if err != nil {
		span.SetAttributes(attribute.String("auth.outcome", autherr.Code(err)))
		if autherr.KindOf(err) == nil || autherr.Retryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, autherr.Code(err))
		}
	}
	span.End()
}

// Login verifies credentials and issues a token pair. Only approved accounts
// receive tokens; unknown identifier and wrong secret are indistinguishable.
func (s *Service) Login(ctx context.Context, now time.Time, in LoginInput) (_ Issued, _ identity.User, err error) {
	const op = "session.Login"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	ident := identity.NormalizeIdentifier(in.Identifier)
	if ident == "" || in.Secret == "" {
		return Issued{}, identity.User{}, autherr.E(op, autherr.ErrInvalidCredentials, nil)
	}

	u, err := s.users.FindByIdentifier(ctx, ident)
	if err != nil {
		if identity.IsNotFound(err) {
			_, _ = s.passwords.Verify(s.dummyHash, in.Secret)
			return Issued{}, identity.User{}, autherr.E(op, autherr.ErrInvalidCredentials, nil)
		}
		return Issued{}, identity.User{}, autherr.Unavailable(op, err)
	}

	ok, verr := s.passwords.Verify(u.PasswordHash, in.Secret)
	if verr != nil {
		s.log.Warn("auth.login.bad_hash", "user_id", u.ID, "err", verr)
	}
	if !ok {
		return Issued{}, identity.User{}, autherr.E(op, autherr.ErrInvalidCredentials, nil)
	}

	if err := statusError(op, u.Status); err != nil {
		return Issued{}, identity.User{}, err
	}

	if s.passwords.NeedsRehash(u.PasswordHash) {
		s.upgradeHash(ctx, now, u.ID, in.Secret)
	}

	iss, rec, err := s.mint(now, u, in.Device)
	if err != nil {
		return Issued{}, identity.User{}, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return Issued{}, identity.User{}, autherr.Unavailable(op, err)
	}

	span.SetAttributes(attribute.String("session.id", rec.ID))
	s.log.Info("auth.login.ok", "user_id", u.ID, "session_id", rec.ID, "device_type", string(rec.DeviceType))
	return iss, u, nil
}

// upgradeHash replaces a legacy or weaker hash after a successful login.
// Failures are logged; the login still succeeds.
func (s *Service) upgradeHash(ctx context.Context, now time.Time, userID, secret string) {
	h, err := s.passwords.Hash(secret)
	if err != nil {
		// Legacy secrets may predate the current policy.
		s.log.Info("auth.password.rehash_skipped", "user_id", userID, "err", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, h, now); err != nil {
		s.log.Warn("auth.password.rehash_fail", "user_id", userID, "err", err)
	}
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed: a second exchange of the same token fails with ErrTokenRevoked.
// Role and status come from the directory, never from the presented token.
func (s *Service) Refresh(ctx context.Context, now time.Time, refreshToken string, dev Device) (_ Issued, err error) {
	const op = "session.Refresh"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	claims, err := s.refresh.Verify(refreshToken, now)
	if err != nil {
		return Issued{}, err
	}

	hash := s.HashRefreshToken(refreshToken)
	rec, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			return Issued{}, autherr.E(op, autherr.ErrSessionNotFound, nil)
		}
		return Issued{}, autherr.Unavailable(op, err)
	}
	if rec.UserID != claims.UserID {
		return Issued{}, autherr.E(op, autherr.ErrSessionNotFound, nil)
	}
	span.SetAttributes(attribute.String("session.id", rec.ID))

	if rec.IsRevoked {
		s.onRevokedPresented(ctx, now, rec)
		return Issued{}, autherr.E(op, autherr.ErrTokenRevoked, nil)
	}
	if !rec.ExpiresAt.After(now) {
		return Issued{}, autherr.E(op, autherr.ErrTokenExpired, nil)
	}

	u, err := s.users.GetUser(ctx, rec.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return Issued{}, autherr.E(op, autherr.ErrSessionNotFound, err)
		}
		return Issued{}, autherr.Unavailable(op, err)
	}
	if err := statusError(op, u.Status); err != nil {
		return Issued{}, err
	}

	if dev.Name == "" {
		dev.Name = rec.DeviceName
	}
	if dev.Type == "" || dev.Type == DeviceUnknown {
		dev.Type = rec.DeviceType
	}

	iss, next, err := s.mint(now, u, dev)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Rotate(ctx, now, hash, next); err != nil {
		if errors.Is(err, autherr.ErrTokenRevoked) || errors.Is(err, autherr.ErrSessionNotFound) {
			s.log.Info("auth.refresh.lost_race", "user_id", u.ID, "session_id", rec.ID)
			return Issued{}, autherr.E(op, autherr.ErrTokenRevoked, nil)
		}
		return Issued{}, autherr.Unavailable(op, err)
	}

	s.log.Info("auth.refresh.ok", "user_id", u.ID, "session_id", next.ID, "replaces", rec.ID)
	return iss, nil
}

// onRevokedPresented handles replay of a consumed token. With
// RevokeFamilyOnReuse set, replay of a rotated token signs the user out
// everywhere.
func (s *Service) onRevokedPresented(ctx context.Context, now time.Time, rec Record) {
	if rec.RevokedReason != ReasonTokenRefresh {
		return
	}
	s.log.Warn("auth.refresh.reuse", "user_id", rec.UserID, "session_id", rec.ID, "replaced_by", rec.ReplacedByID)
	if !s.cfg.RevokeFamilyOnReuse {
		return
	}
	n, err := s.store.RevokeAllByUser(ctx, now, rec.UserID, ReasonReuseDetected)
	if err != nil {
		s.log.Error("auth.refresh.reuse_revoke_fail", "user_id", rec.UserID, "err", err)
		return
	}
	s.log.Warn("auth.refresh.reuse_revoked_all", "user_id", rec.UserID, "revoked", n)
}

// Logout revokes exactly the session holding refreshToken. Repeating it is a
// no-op; an unknown token is ErrSessionNotFound. Signature and expiry are not
// required so an expired session can still be closed.
func (s *Service) Logout(ctx context.Context, now time.Time, refreshToken string) (err error) {
	const op = "session.Logout"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return autherr.E(op, autherr.ErrAuthMissing, nil)
	}
	if len(refreshToken) > maxTokenLen {
		return autherr.E(op, autherr.ErrAuthMalformed, nil)
	}

	if err := s.store.RevokeByHash(ctx, now, s.HashRefreshToken(refreshToken), ReasonLogout); err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			return autherr.E(op, autherr.ErrSessionNotFound, nil)
		}
		return autherr.Unavailable(op, err)
	}
	return nil
}

// LogoutAll revokes every live session of userID and returns how many were
// revoked. A second call returns 0 and no error.
func (s *Service) LogoutAll(ctx context.Context, now time.Time, userID string) (_ int64, err error) {
	const op = "session.LogoutAll"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	if strings.TrimSpace(userID) == "" {
		return 0, autherr.E(op, autherr.ErrSessionNotFound, nil)
	}
	n, err := s.store.RevokeAllByUser(ctx, now, userID, ReasonLogoutAllDevices)
	if err != nil {
		return 0, autherr.Unavailable(op, err)
	}
	span.SetAttributes(attribute.Int64("session.revoked", n))
	s.log.Info("auth.logout_all.ok", "user_id", userID, "revoked", n)
	return n, nil
}

// ChangePassword verifies current, stores a hash of next and signs the user
// out of every device. It returns the number of sessions revoked.
// Policy violations are returned as password.Err* values.
func (s *Service) ChangePassword(ctx context.Context, now time.Time, userID, current, next string) (_ int64, err error) {
	const op = "session.ChangePassword"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return 0, autherr.E(op, autherr.ErrSessionNotFound, err)
		}
		return 0, autherr.Unavailable(op, err)
	}
	ok, _ := s.passwords.Verify(u.PasswordHash, current)
	if !ok {
		return 0, autherr.E(op, autherr.ErrInvalidCredentials, nil)
	}
	if err := s.passwords.ValidateFor(u.Identifier, next); err != nil {
		return 0, err
	}
	h, err := s.passwords.Hash(next)
	if err != nil {
		return 0, err
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, h, now); err != nil {
		return 0, autherr.Unavailable(op, err)
	}

	n, err := s.store.RevokeAllByUser(ctx, now, u.ID, ReasonLogoutAllDevices)
	if err != nil {
		return 0, autherr.Unavailable(op, err)
	}
	s.log.Info("auth.password.changed", "user_id", u.ID, "revoked", n)
	return n, nil
}

// VerifyAccess checks an access token's signature and time claims only.
func (s *Service) VerifyAccess(tok string, now time.Time) (AccessClaims, error) {
	return s.access.Verify(tok, now)
}

// ActiveSessions lists the user's live refresh sessions, newest first.
func (s *Service) ActiveSessions(ctx context.Context, now time.Time, userID string) ([]Record, error) {
	const op = "session.ActiveSessions"
	recs, err := s.store.ListActiveByUser(ctx, now, userID)
	if err != nil {
		return nil, autherr.Unavailable(op, err)
	}
	return recs, nil
}

// SweepExpired deletes records that expired or were revoked more than
// Retention ago.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	const op = "session.SweepExpired"
	ctx, span := s.start(ctx, op)
	defer func() { s.finish(span, op, err) }()

	n, err := s.store.DeleteExpired(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		return 0, autherr.Unavailable(op, err)
	}
	if s.metrics != nil {
		s.metrics.swept.Add(float64(n))
	}
	return n, nil
}

// mint creates a token pair and the record that will hold its hash.
func (s *Service) mint(now time.Time, u identity.User, dev Device) (Issued, Record, error) {
	dev = dev.sanitized()

	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, Record{}, err
	}
	refreshTok, refreshExp, err := s.refresh.Issue(u.ID, s.refreshTTL(dev.Type), now)
	if err != nil {
		return Issued{}, Record{}, err
	}
	accessTok, accessExp, err := s.access.Issue(u.ID, u.Role, now)
	if err != nil {
		return Issued{}, Record{}, err
	}

	rec := Record{
		ID:         id,
		UserID:     u.ID,
		TokenHash:  s.hasher.Hash(refreshTok),
		DeviceName: dev.Name,
		DeviceType: dev.Type,
		IPAddress:  ipString(dev.IP),
		UserAgent:  dev.UserAgent,
		IssuedAt:   now,
		ExpiresAt:  refreshExp,
	}
	return Issued{
		SessionID:    id,
		AccessToken:  accessTok,
		AccessExp:    accessExp,
		RefreshToken: refreshTok,
		RefreshExp:   refreshExp,
	}, rec, nil
}

// statusError maps a non-approved status to its autherr kind.
func statusError(op string, st identity.Status) error {
	switch st {
	case identity.StatusApproved:
		return nil
	case identity.StatusPending:
		return autherr.E(op, autherr.ErrAccountPending, nil)
	case identity.StatusSuspended:
		return autherr.E(op, autherr.ErrAccountSuspended, nil)
	default:
		return autherr.E(op, autherr.ErrAccountRejected, nil)
	}
}

// StatusError exposes the status mapping to the guard.
func StatusError(op string, st identity.Status) error { return statusError(op, st) }

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return autherr.Code(err)
}
