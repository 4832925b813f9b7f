package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coursemart/authcore/internal/audit"
	"github.com/coursemart/authcore/internal/flows"
	"github.com/coursemart/authcore/internal/ids"
	"github.com/coursemart/authcore/internal/rate"
	"github.com/coursemart/authcore/jwt"
	"github.com/coursemart/authcore/permission"
	"github.com/coursemart/authcore/session"
)

// Engine issues, verifies, refreshes and revokes login sessions.
// It is safe for concurrent use; build one with [New].
type Engine struct {
	config      Config
	table       *permission.Table
	store       session.Store
	principals  PrincipalProvider
	rateLimiter *rate.Limiter
	audit       *audit.Dispatcher
	metrics     *Metrics
	jwtManager  *jwt.Manager
	logger      *slog.Logger
	now         func() time.Time
	flows       flows.Service
}

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) refreshLimiter() flows.RefreshRateLimiter {
	if e.rateLimiter == nil {
		return nil
	}
	return e.rateLimiter
}

func (e *Engine) lookupPrincipal(ctx context.Context, subject string) (flows.PrincipalState, bool, error) {
	p, err := e.principals.GetPrincipal(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return flows.PrincipalState{}, false, nil
		}
		return flows.PrincipalState{}, false, err
	}
	return flows.PrincipalState{Role: p.Role, Active: p.Active}, true, nil
}

// Permissions returns the permissions granted to role, or nil for an unknown role.
func (e *Engine) Permissions(role string) []string {
	if e == nil || e.table == nil {
		return nil
	}
	return e.table.Permissions(role)
}

// IssueSession starts a login session for an already authenticated principal
// and returns its first token pair.
func (e *Engine) IssueSession(ctx context.Context, p Principal) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if p.ID == "" {
		return TokenPair{}, errors.New("principal id required")
	}
	if !p.Active {
		e.emitAudit(ctx, auditEventSessionIssued, false, p.ID, "", ErrPrincipalInactive, nil)
		return TokenPair{}, ErrPrincipalInactive
	}
	if !e.table.HasRole(p.Role) {
		e.emitAudit(ctx, auditEventSessionIssued, false, p.ID, "", ErrUnknownRole, nil)
		return TokenPair{}, fmt.Errorf("%w: %q", ErrUnknownRole, p.Role)
	}

	sessionID := ids.NewSessionID()
	tokenID, err := ids.NewTokenID()
	if err != nil {
		return TokenPair{}, errors.Join(ErrSessionCreationFailed, err)
	}

	rec := session.Record{
		ID:        tokenID,
		SessionID: sessionID,
		Subject:   p.ID,
		ExpiresAt: e.now().Add(e.config.Token.RefreshTTL),
	}
	if err := e.store.Record(ctx, rec); err != nil {
		e.metricInc(MetricStoreFailure)
		e.logger.Error("recording refresh token failed", "error", err, "subject", p.ID)
		e.emitAudit(ctx, auditEventSessionIssued, false, p.ID, sessionID, ErrSessionCreationFailed, nil)
		return TokenPair{}, errors.Join(ErrSessionCreationFailed, storeError(err))
	}

	access, err := e.jwtManager.Issue(jwt.Subject{ID: p.ID, Role: p.Role, SessionID: sessionID}, jwt.KindAccess, e.config.Token.AccessTTL)
	if err != nil {
		return TokenPair{}, errors.Join(ErrSessionCreationFailed, err)
	}
	refresh, err := e.jwtManager.Issue(jwt.Subject{ID: p.ID, SessionID: sessionID, TokenID: tokenID}, jwt.KindRefresh, e.config.Token.RefreshTTL)
	if err != nil {
		return TokenPair{}, errors.Join(ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, p.ID, sessionID, nil, func() map[string]string {
		return map[string]string{"role": p.Role}
	})
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Authorize verifies accessToken and checks that its role grants permission.
//
// Failures are ErrUnauthenticated joined with ErrTokenExpired, ErrTokenMalformed
// or ErrTokenSignatureInvalid, or ErrForbidden. Authorize never touches the
// revocation store, never retries and never refreshes.
func (e *Engine) Authorize(ctx context.Context, accessToken, permission string) (*AuthResult, error) {
	if permission == "" {
		return nil, fmt.Errorf("%w: empty permission", ErrForbidden)
	}
	return e.authorize(ctx, accessToken, permission)
}

// Authenticate is Authorize without a permission check.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	return e.authorize(ctx, accessToken, "")
}

func (e *Engine) authorize(ctx context.Context, accessToken, permission string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}
	result := e.flows.Authorize(accessToken, permission)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}

	switch result.Failure {
	case flows.AuthorizeFailureNone:
		e.metricInc(MetricAuthorizeAllowed)
		claims := result.Claims
		out := &AuthResult{
			Subject:   claims.Subject,
			Role:      claims.Role,
			SessionID: claims.SessionID,
		}
		if claims.ExpiresAt != nil {
			out.ExpiresAt = claims.ExpiresAt.Time
		}
		return out, nil
	case flows.AuthorizeFailureToken:
		e.metricInc(MetricAuthorizeUnauthenticated)
		kind := e.noteTokenFailure(result.Err, jwt.KindAccess)
		return nil, errors.Join(ErrUnauthenticated, kind)
	default:
		e.metricInc(MetricAuthorizeForbidden)
		claims := result.Claims
		e.logger.Debug("permission denied", "subject", claims.Subject, "role", claims.Role, "permission", permission)
		e.emitAudit(ctx, auditEventAuthorizeDenied, false, claims.Subject, claims.SessionID, ErrForbidden, func() map[string]string {
			return map[string]string{"role": claims.Role, "permission": permission}
		})
		return nil, ErrForbidden
	}
}

// noteTokenFailure counts and logs a verification failure and returns its root sentinel.
func (e *Engine) noteTokenFailure(err error, kind jwt.Kind) error {
	sentinel := tokenSentinel(err)
	switch sentinel {
	case ErrTokenExpired:
		e.metricInc(MetricTokenExpired)
		e.logger.Debug("token expired", "kind", kind)
	case ErrTokenSignatureInvalid:
		e.metricInc(MetricTokenSignatureInvalid)
		e.logger.Warn("token signature invalid", "kind", kind, "error", err)
	default:
		e.metricInc(MetricTokenMalformed)
		e.logger.Debug("token malformed", "kind", kind, "error", err)
	}
	return sentinel
}

// Refresh exchanges refreshToken for a new pair and retires its identifier.
//
// Of several concurrent calls with the same token exactly one succeeds; the
// others fail with ErrRejected and ErrTokenRevoked, and so does any later
// replay, which also ends the whole login session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	result := e.flows.Refresh(ctx, refreshToken)
	if result.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.Subject, result.SessionID, nil, nil)
		return TokenPair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}, nil
	}

	err := e.refreshError(ctx, result)
	if !errors.Is(err, ErrRefreshRateLimited) {
		e.metricInc(MetricRefreshFailure)
	}
	return TokenPair{}, err
}

func (e *Engine) refreshError(ctx context.Context, result flows.RefreshResult) error {
	subject, sessionID := result.Subject, result.SessionID
	invalid := func(err error, reason string) error {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, subject, sessionID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	switch result.Failure {
	case flows.RefreshFailureToken:
		return invalid(errors.Join(ErrRejected, e.noteTokenFailure(result.Err, jwt.KindRefresh)), "verify")

	case flows.RefreshFailureRateLimited:
		if !errors.Is(result.Err, rate.ErrRateLimited) {
			e.metricInc(MetricStoreFailure)
			e.logger.Error("refresh throttle unavailable", "error", result.Err, "session_id", sessionID)
			return invalid(storeError(result.Err), "throttle_unavailable")
		}
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, subject, sessionID, ErrRefreshRateLimited, nil)
		return ErrRefreshRateLimited

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.logger.Warn("refresh token reuse detected", "subject", subject, "session_id", sessionID)
		err := errors.Join(ErrRejected, ErrTokenRevoked)
		if result.InvalidationErr != nil {
			e.metricInc(MetricStoreFailure)
			e.logger.Error("revoking session after reuse failed", "error", result.InvalidationErr, "session_id", sessionID)
			err = errors.Join(err, ErrSessionInvalidationFailed)
		}
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, subject, sessionID, err, nil)
		return err

	case flows.RefreshFailureExpired:
		e.metricInc(MetricTokenExpired)
		return invalid(errors.Join(ErrRejected, ErrTokenExpired), "store_expired")

	case flows.RefreshFailureMismatch:
		e.metricInc(MetricTokenMalformed)
		e.logger.Warn("refresh token session mismatch", "subject", subject, "session_id", sessionID)
		return invalid(errors.Join(ErrRejected, ErrTokenMalformed), "session_mismatch")

	case flows.RefreshFailurePrincipalInactive:
		e.metricInc(MetricSessionRevoked)
		err := errors.Join(ErrRejected, ErrTokenRevoked)
		if result.InvalidationErr != nil {
			e.metricInc(MetricStoreFailure)
			e.logger.Error("revoking inactive principal failed", "error", result.InvalidationErr, "subject", subject)
			err = errors.Join(err, ErrSessionInvalidationFailed)
		}
		return invalid(err, "principal_inactive")

	case flows.RefreshFailureRotate:
		e.metricInc(MetricStoreFailure)
		e.logger.Error("refresh rotation failed", "error", result.Err, "session_id", sessionID)
		return invalid(storeError(result.Err), "rotate_failed")

	case flows.RefreshFailurePrincipalLookup:
		e.logger.Error("principal lookup failed during refresh", "error", result.Err, "subject", subject)
		return invalid(fmt.Errorf("principal lookup: %w", result.Err), "principal_lookup")

	default:
		e.logger.Error("refresh failed", "error", result.Err, "session_id", sessionID)
		return invalid(result.Err, "internal")
	}
}

// Logout ends the login session named by refreshToken. Expired but authentic
// tokens are accepted; revoking an already revoked session is not an error.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	result := e.flows.Logout(ctx, refreshToken)
	if result.TokenErr != nil {
		return errors.Join(ErrRejected, e.noteTokenFailure(result.TokenErr, jwt.KindRefresh))
	}
	if result.StoreErr != nil {
		e.metricInc(MetricStoreFailure)
		e.logger.Error("logout failed", "error", result.StoreErr, "session_id", result.SessionID)
		e.emitAudit(ctx, auditEventLogoutSession, false, result.Subject, result.SessionID, ErrSessionInvalidationFailed, nil)
		return errors.Join(ErrSessionInvalidationFailed, storeError(result.StoreErr))
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogoutSession, true, result.Subject, result.SessionID, nil, nil)
	return nil
}

// LogoutAll ends every login session of subject at the subject's own request.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if err := e.RevokeAll(ctx, subject); err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, subject, "", err, nil)
		return err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, nil)
	return nil
}

// RevokeAll revokes every refresh identifier of subject. When it returns nil
// no refresh token issued to subject before the call can be exchanged.
func (e *Engine) RevokeAll(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if subject == "" {
		return errors.New("subject required")
	}
	if err := e.flows.LogoutAll(ctx, subject); err != nil {
		e.metricInc(MetricStoreFailure)
		e.logger.Error("revoking all sessions failed", "error", err, "subject", subject)
		return errors.Join(ErrSessionInvalidationFailed, storeError(err))
	}
	e.metricInc(MetricSessionRevoked)
	return nil
}

func (e *Engine) admin() (PrincipalAdmin, error) {
	admin, ok := e.principals.(PrincipalAdmin)
	if !ok {
		return nil, ErrPrincipalAdminMissing
	}
	return admin, nil
}

// DeactivatePrincipal marks subject inactive and revokes all of its refresh
// identifiers before returning. Access tokens already issued stay valid until
// they expire.
func (e *Engine) DeactivatePrincipal(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}

	// Inactive first: a refresh that slips in between sees the flag and revokes itself.
	if err := admin.SetActive(ctx, subject, false); err != nil {
		e.emitAudit(ctx, auditEventPrincipalDeactivated, false, subject, "", err, nil)
		return err
	}
	if err := e.RevokeAll(ctx, subject); err != nil {
		e.emitAudit(ctx, auditEventPrincipalDeactivated, false, subject, "", err, nil)
		return err
	}

	e.metricInc(MetricPrincipalDeactivated)
	e.emitAudit(ctx, auditEventPrincipalDeactivated, true, subject, "", nil, nil)
	return nil
}

// ChangeRole assigns role to subject. Tokens carry the role they were issued
// with, so the change reaches a session at its next refresh.
func (e *Engine) ChangeRole(ctx context.Context, subject, role string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if !e.table.HasRole(role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	admin, err := e.admin()
	if err != nil {
		return err
	}
	if err := admin.SetRole(ctx, subject, role); err != nil {
		e.emitAudit(ctx, auditEventRoleChanged, false, subject, "", err, nil)
		return err
	}

	e.metricInc(MetricRoleChanged)
	e.emitAudit(ctx, auditEventRoleChanged, true, subject, "", nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return nil
}
