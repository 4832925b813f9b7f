package authcore

import (
	"errors"
	"net/http"

	"github.com/coursemart/authcore/internal/rate"
	"github.com/coursemart/authcore/jwt"
	"github.com/coursemart/authcore/session"
)

var (
	// ErrTokenMalformed marks a token that is not structurally valid or carries the wrong claims.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired marks an authentic token at or past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignatureInvalid marks a token whose signature, algorithm or key id does not verify.
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	// ErrTokenRevoked marks a refresh token whose identifier is no longer live.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrUnauthenticated is joined with a token sentinel when the guard rejects an access token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the caller's role does not grant the permission.
	ErrForbidden = errors.New("forbidden")
	// ErrRejected is joined with a token sentinel when a refresh exchange is refused.
	ErrRejected = errors.New("refresh rejected")

	// ErrRefreshRateLimited is returned when one session refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrPrincipalNotFound is returned by PrincipalProvider implementations for unknown subjects.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalInactive is returned when a session is requested for a deactivated principal.
	ErrPrincipalInactive = errors.New("principal inactive")
	// ErrUnknownRole is returned when a role is not in the permission table.
	ErrUnknownRole = errors.New("unknown role")
	// ErrSessionCreationFailed is returned when a new session could not be recorded.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is returned when revocation could not be completed.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrStoreUnavailable is returned when the revocation store cannot be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrPrincipalAdminMissing is returned by admin operations when no PrincipalAdmin is configured.
	ErrPrincipalAdminMissing = errors.New("principal provider does not support updates")
	// ErrEngineNotReady is returned when the Engine is used before Build or after Close.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind is the wire classification of a failure.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindExpired     ErrorKind = "expired"
	KindRevoked     ErrorKind = "revoked"
	KindMalformed   ErrorKind = "malformed"
	KindForbidden   ErrorKind = "forbidden"
	KindRateLimited ErrorKind = "rate_limited"
	KindUnavailable ErrorKind = "unavailable"
	// KindSignatureInvalid is used in logs and metrics only. On the wire it is sent as KindMalformed.
	KindSignatureInvalid ErrorKind = "signature_invalid"
)

// KindOf classifies err. Unrecognised errors are KindUnavailable so they never
// read as an authentication decision.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTokenExpired):
		return KindExpired
	case errors.Is(err, ErrTokenRevoked):
		return KindRevoked
	case errors.Is(err, ErrTokenSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrTokenMalformed):
		return KindMalformed
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRefreshRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrRejected):
		return KindMalformed
	default:
		return KindUnavailable
	}
}

// WireKind is KindOf with signature failures folded into KindMalformed, so a
// client cannot tell a forged token from a garbled one.
func WireKind(err error) ErrorKind {
	kind := KindOf(err)
	if kind == KindSignatureInvalid {
		return KindMalformed
	}
	return kind
}

// StatusFor maps err to the HTTP status used by the middleware and the refresh endpoint.
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindNone:
		return http.StatusOK
	case KindExpired, KindRevoked, KindMalformed, KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// tokenSentinel translates codec errors into the root token sentinels.
func tokenSentinel(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignatureInvalid
	default:
		return ErrTokenMalformed
	}
}

func storeError(err error) error {
	if errors.Is(err, session.ErrStoreUnavailable) || errors.Is(err, rate.ErrRedisUnavailable) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}
