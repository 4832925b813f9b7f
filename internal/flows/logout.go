package flows

import (
	"context"

	"github.com/coursemart/authcore/jwt"
)

type LogoutSessionStore interface {
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAll(ctx context.Context, subject string) error
}

// LogoutDeps captures logout flow dependencies. Verify must accept expired
// refresh tokens that are otherwise authentic.
type LogoutDeps struct {
	Verify       func(string) (*jwt.Claims, error)
	SessionStore LogoutSessionStore
}

type LogoutResult struct {
	Subject   string
	SessionID string
	// TokenErr is set when the presented token was rejected; StoreErr when revocation failed.
	TokenErr error
	StoreErr error
}

// RunLogout revokes the whole login session named by refreshToken.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.Verify(refreshToken)
	if err != nil {
		return LogoutResult{TokenErr: err}
	}
	return LogoutResult{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		StoreErr:  deps.SessionStore.RevokeSession(ctx, claims.SessionID),
	}
}

// RunLogoutAll revokes every session of subject.
func RunLogoutAll(ctx context.Context, subject string, deps LogoutDeps) error {
	return deps.SessionStore.RevokeAll(ctx, subject)
}
