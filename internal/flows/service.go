package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Authorize.Verify != nil && s.deps.Refresh.Verify != nil
}

func (s Service) Authorize(tokenStr, permission string) AuthorizeResult {
	return RunAuthorize(tokenStr, permission, s.deps.Authorize)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogout(ctx, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, subject string) error {
	return RunLogoutAll(ctx, subject, s.deps.Logout)
}
