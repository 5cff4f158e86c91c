package autherr

import "net/http"

// HTTPStatus maps err to a response status. Token and credential kinds are
// 401, account status and room denial are 403, infrastructure is 503.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrAuthMissing, ErrAuthMalformed, ErrTokenExpired, ErrTokenInvalidSignature,
		ErrTokenRevoked, ErrSessionNotFound, ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrAccountPending, ErrAccountSuspended, ErrAccountRejected, ErrRoomAccessDenied:
		return http.StatusForbidden
	case ErrInfrastructureUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handshake rejection codes returned before a realtime connection is opened.
const (
	ReasonNoToken          = "no_token"
	ReasonMalformed        = "malformed"
	ReasonInvalidSignature = "invalid_signature"
	ReasonExpired          = "expired"
	ReasonIneligible       = "ineligible_status"
	ReasonSessionNotFound  = "session_not_found"
	ReasonUnavailable      = "unavailable"
	ReasonInternal         = "internal"
)

// HandshakeReason maps err to a handshake rejection code.
func HandshakeReason(err error) string {
	switch KindOf(err) {
	case ErrAuthMissing:
		return ReasonNoToken
	case ErrAuthMalformed:
		return ReasonMalformed
	case ErrTokenInvalidSignature:
		return ReasonInvalidSignature
	case ErrTokenExpired:
		return ReasonExpired
	case ErrAccountPending, ErrAccountSuspended, ErrAccountRejected:
		return ReasonIneligible
	case ErrSessionNotFound, ErrTokenRevoked:
		return ReasonSessionNotFound
	case ErrInfrastructureUnavailable:
		return ReasonUnavailable
	default:
		return ReasonInternal
	}
}

// Code returns the stable machine code for err ("token_expired", ...), or
// "internal_error" for errors outside the taxonomy.
func Code(err error) string {
	if k := KindOf(err); k != nil {
		return k.Error()
	}
	return "internal_error"
}

// UserMessage returns client-facing text for err. Account status kinds get a
// specific message; clients branch on Code, not on this text.
func UserMessage(err error) string {
	switch KindOf(err) {
	case ErrAccountPending:
		return "Your account is awaiting approval."
	case ErrAccountSuspended:
		return "Your account has been suspended. Contact an administrator."
	case ErrAccountRejected:
		return "Your registration was rejected."
	case ErrInvalidCredentials:
		return "Invalid credentials."
	case ErrTokenExpired:
		return "Session expired."
	case ErrTokenRevoked, ErrSessionNotFound:
		return "Session is no longer valid. Please sign in again."
	case ErrAuthMissing, ErrAuthMalformed, ErrTokenInvalidSignature:
		return "Authentication required."
	case ErrRoomAccessDenied:
		return "Access denied."
	case ErrInfrastructureUnavailable:
		return "Service temporarily unavailable."
	default:
		return "Internal error."
	}
}

// Retryable reports whether the client should retry the same request later.
func Retryable(err error) bool {
	return KindOf(err) == ErrInfrastructureUnavailable
}
