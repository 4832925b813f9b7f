package flows

import "github.com/coursemart/authcore/jwt"

// AuthorizeFailureKind classifies guard failures for root-level mapping.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureToken
	AuthorizeFailureUnknownRole
	AuthorizeFailureForbidden
)

// AuthorizeResult carries the verified claims or the failure classification.
// Claims is set for AuthorizeFailureUnknownRole and AuthorizeFailureForbidden
// so the caller can log who was refused.
type AuthorizeResult struct {
	Failure AuthorizeFailureKind
	Err     error
	Claims  *jwt.Claims
}

// AuthorizeDeps captures guard dependencies. Verify must check an access token.
type AuthorizeDeps struct {
	Verify  func(string) (*jwt.Claims, error)
	HasRole func(role string) bool
	Allows  func(role, permission string) bool
}

// RunAuthorize verifies tokenStr and checks that its role grants permission.
// An empty permission only authenticates. It never touches session state.
func RunAuthorize(tokenStr, permission string, deps AuthorizeDeps) AuthorizeResult {
	claims, err := deps.Verify(tokenStr)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureToken, Err: err}
	}
	if !deps.HasRole(claims.Role) {
		return AuthorizeResult{Failure: AuthorizeFailureUnknownRole, Claims: claims}
	}
	if permission != "" && !deps.Allows(claims.Role, permission) {
		return AuthorizeResult{Failure: AuthorizeFailureForbidden, Claims: claims}
	}
	return AuthorizeResult{Claims: claims}
}
