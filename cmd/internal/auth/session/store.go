package session

import (
	"context"
	"time"
)

// RevokeReason records why a refresh session stopped being usable.
type RevokeReason string

const (
	ReasonTokenRefresh     RevokeReason = "token_refresh"
	ReasonLogout           RevokeReason = "logout"
	ReasonLogoutAllDevices RevokeReason = "logout_all_devices"
	ReasonReuseDetected    RevokeReason = "reuse_detected"
)

// Record is one refresh session. TokenHash is the only form of the refresh
// token the server ever holds.
type Record struct {
	ID         string
	UserID     string
	TokenHash  string
	DeviceName string
	DeviceType DeviceType
	IPAddress  string
	UserAgent  string

	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time

	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason RevokeReason

	// ReplacedByID links a rotated record to its successor.
	ReplacedByID string
}

// Active reports whether r can still be exchanged at now.
func (r Record) Active(now time.Time) bool {
	return !r.IsRevoked && r.ExpiresAt.After(now)
}

// Store persists refresh sessions keyed by token hash.
//
// FindByHash and RevokeByHash return autherr.ErrSessionNotFound when no record
// matches. FindByHash returns revoked and expired records too; the caller
// classifies them. Rotate returns autherr.ErrTokenRevoked when the old record
// was already revoked by the time the conditional update ran. Any other error
// means the store is unavailable.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	FindByHash(ctx context.Context, hash string) (Record, error)

	// Rotate revokes the record holding oldHash with ReasonTokenRefresh and
	// inserts next, atomically.
	Rotate(ctx context.Context, now time.Time, oldHash string, next Record) error

	// RevokeByHash is idempotent: an already revoked record is left unchanged.
	RevokeByHash(ctx context.Context, now time.Time, hash string, reason RevokeReason) error

	// RevokeAllByUser revokes every non-revoked record and returns how many changed.
	RevokeAllByUser(ctx context.Context, now time.Time, userID string, reason RevokeReason) (int64, error)

	ListActiveByUser(ctx context.Context, now time.Time, userID string) ([]Record, error)

	// DeleteExpired removes records that expired, or were revoked, before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
