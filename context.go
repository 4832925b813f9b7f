package authcore

import "context"

type clientIPContextKey struct{}
type authResultContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine copies it
// into audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithAuthResult stores a verified [AuthResult] on ctx. The HTTP guards call
// it after a successful Authorize.
func WithAuthResult(ctx context.Context, result *AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, result)
}

// AuthResultFromContext returns the [AuthResult] stored by [WithAuthResult].
func AuthResultFromContext(ctx context.Context) (*AuthResult, bool) {
	if ctx == nil {
		return nil, false
	}
	result, ok := ctx.Value(authResultContextKey{}).(*AuthResult)
	return result, ok && result != nil
}
