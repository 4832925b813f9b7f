package authcore

import (
	"context"
	"time"
)

// Principal is an authenticated actor of the marketplace. It holds exactly
// one role; deactivation replaces deletion.
type Principal struct {
	ID          string
	Role        string
	DisplayName string
	Active      bool
}

// PrincipalProvider looks principals up by subject id. Implementations return
// [ErrPrincipalNotFound] for unknown ids.
//
// Refresh consults it on every exchange so that role changes and deactivation
// take effect no later than the next refresh.
type PrincipalProvider interface {
	GetPrincipal(ctx context.Context, id string) (Principal, error)
}

// PrincipalAdmin is a [PrincipalProvider] that can also change principals.
// [Engine.DeactivatePrincipal] and [Engine.ChangeRole] require it.
type PrincipalAdmin interface {
	PrincipalProvider
	SetActive(ctx context.Context, id string, active bool) error
	SetRole(ctx context.Context, id, role string) error
}

// AuthResult is returned by [Engine.Authorize] and [Engine.Authenticate].
type AuthResult struct {
	Subject   string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

// TokenPair is a freshly issued access and refresh credential. Its JSON form
// is the success body of the refresh endpoint.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
