package flows

import (
	"context"
	"errors"
	"time"

	"github.com/coursemart/authcore/jwt"
	"github.com/coursemart/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureToken
	RefreshFailureRateLimited
	RefreshFailureTokenID
	RefreshFailureReuse
	RefreshFailureExpired
	RefreshFailureMismatch
	RefreshFailureRotate
	RefreshFailurePrincipalLookup
	RefreshFailurePrincipalInactive
	RefreshFailureIssue
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	Subject      string
	SessionID    string
	Role         string
	AccessToken  string
	RefreshToken string
	// InvalidationErr is set when a revocation triggered by the failure itself failed.
	InvalidationErr error
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, sessionID string) error
}

type RefreshSessionStore interface {
	Rotate(ctx context.Context, presentedID string, next session.Record) error
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAll(ctx context.Context, subject string) error
}

// PrincipalState is what refresh needs to know about a subject at exchange time.
type PrincipalState struct {
	Role   string
	Active bool
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Verify          func(string) (*jwt.Claims, error)
	Issue           func(jwt.Subject, jwt.Kind, time.Duration) (string, error)
	NewTokenID      func() (string, error)
	LookupPrincipal func(ctx context.Context, subject string) (PrincipalState, bool, error)
	Now             func() time.Time
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RateLimiter     RefreshRateLimiter
	SessionStore    RefreshSessionStore
}

// RunRefresh exchanges a refresh token for a new pair, rotating its id.
//
// Rotation runs before the principal lookup so that of two concurrent exchanges
// of one token exactly one reaches issuance.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Verify(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureToken, Err: err}
	}
	subject, sessionID := claims.Subject, claims.SessionID

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, sessionID); err != nil {
			return RefreshResult{
				Failure:   RefreshFailureRateLimited,
				Err:       err,
				Subject:   subject,
				SessionID: sessionID,
			}
		}
	}

	nextID, err := deps.NewTokenID()
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureTokenID,
			Err:       err,
			Subject:   subject,
			SessionID: sessionID,
		}
	}

	next := session.Record{
		ID:        nextID,
		SessionID: sessionID,
		Subject:   subject,
		ExpiresAt: deps.Now().Add(deps.RefreshTTL),
	}
	if err := deps.SessionStore.Rotate(ctx, claims.ID, next); err != nil {
		result := RefreshResult{Err: err, Subject: subject, SessionID: sessionID}
		switch {
		case errors.Is(err, session.ErrRevoked), errors.Is(err, session.ErrNotFound):
			// A retired id came back: someone holds a copy. End the whole session.
			result.Failure = RefreshFailureReuse
			result.InvalidationErr = deps.SessionStore.RevokeSession(ctx, sessionID)
		case errors.Is(err, session.ErrExpired):
			result.Failure = RefreshFailureExpired
		case errors.Is(err, session.ErrSessionMismatch):
			result.Failure = RefreshFailureMismatch
		default:
			result.Failure = RefreshFailureRotate
		}
		return result
	}

	principal, found, err := deps.LookupPrincipal(ctx, subject)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailurePrincipalLookup,
			Err:       err,
			Subject:   subject,
			SessionID: sessionID,
		}
	}
	if !found || !principal.Active {
		return RefreshResult{
			Failure:         RefreshFailurePrincipalInactive,
			Subject:         subject,
			SessionID:       sessionID,
			InvalidationErr: deps.SessionStore.RevokeAll(ctx, subject),
		}
	}

	access, err := deps.Issue(jwt.Subject{
		ID:        subject,
		Role:      principal.Role,
		SessionID: sessionID,
	}, jwt.KindAccess, deps.AccessTTL)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssue,
			Err:       err,
			Subject:   subject,
			SessionID: sessionID,
		}
	}

	refresh, err := deps.Issue(jwt.Subject{
		ID:        subject,
		SessionID: sessionID,
		TokenID:   nextID,
	}, jwt.KindRefresh, deps.RefreshTTL)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssue,
			Err:       err,
			Subject:   subject,
			SessionID: sessionID,
		}
	}

	return RefreshResult{
		Subject:      subject,
		SessionID:    sessionID,
		Role:         principal.Role,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}
