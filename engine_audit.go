package authcore

import (
	"context"
	"errors"
)

const (
	auditEventSessionIssued        = "session_issued"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventAuthorizeDenied      = "authorize_denied"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventPrincipalDeactivated = "principal_deactivated"
	auditEventRoleChanged          = "role_changed"
)

// AuditErrorCode is the stable, secret-free error label written into audit events.
type AuditErrorCode string

const (
	auditErrTokenExpired          AuditErrorCode = "token_expired"
	auditErrTokenMalformed        AuditErrorCode = "token_malformed"
	auditErrSignatureInvalid      AuditErrorCode = "signature_invalid"
	auditErrTokenRevoked          AuditErrorCode = "token_revoked"
	auditErrForbidden             AuditErrorCode = "forbidden"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrPrincipalNotFound     AuditErrorCode = "principal_not_found"
	auditErrPrincipalInactive     AuditErrorCode = "principal_inactive"
	auditErrUnknownRole           AuditErrorCode = "unknown_role"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrSessionInvalidation   AuditErrorCode = "session_invalidation_failed"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Type:      eventType,
		Subject:   subject,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenSignatureInvalid):
		return auditErrSignatureInvalid
	case errors.Is(err, ErrTokenMalformed):
		return auditErrTokenMalformed
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrPrincipalNotFound
	case errors.Is(err, ErrPrincipalInactive):
		return auditErrPrincipalInactive
	case errors.Is(err, ErrUnknownRole):
		return auditErrUnknownRole
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
