package autherr

import "errors"

// Sentinel kinds. Compare with errors.Is.
var (
	ErrAuthMissing               = errors.New("auth_missing")
	ErrAuthMalformed             = errors.New("auth_malformed")
	ErrTokenExpired              = errors.New("token_expired")
	ErrTokenInvalidSignature     = errors.New("token_invalid_signature")
	ErrTokenRevoked              = errors.New("token_revoked")
	ErrSessionNotFound           = errors.New("session_not_found")
	ErrInvalidCredentials        = errors.New("invalid_credentials")
	ErrAccountPending            = errors.New("account_pending")
	ErrAccountSuspended          = errors.New("account_suspended")
	ErrAccountRejected           = errors.New("account_rejected")
	ErrRoomAccessDenied          = errors.New("room_access_denied")
	ErrInfrastructureUnavailable = errors.New("infrastructure_unavailable")
)

var kinds = []error{
	ErrAuthMissing,
	ErrAuthMalformed,
	ErrTokenExpired,
	ErrTokenInvalidSignature,
	ErrTokenRevoked,
	ErrSessionNotFound,
	ErrInvalidCredentials,
	ErrAccountPending,
	ErrAccountSuspended,
	ErrAccountRejected,
	ErrRoomAccessDenied,
	ErrInfrastructureUnavailable,
}

// KindOf returns the first sentinel kind err wraps, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
