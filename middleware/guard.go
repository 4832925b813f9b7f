package middleware

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/coursemart/authcore"
)

const bearerChallenge = `Bearer error="invalid_token"`

var errMissingBearer = errors.Join(authcore.ErrUnauthenticated, authcore.ErrTokenMalformed)

// Require returns middleware that admits requests whose bearer token grants permission.
func Require(engine *authcore.Engine, permission string) func(http.Handler) http.Handler {
	return guard(engine, permission)
}

// RequireAuthenticated admits any request with a valid access token.
func RequireAuthenticated(engine *authcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, "")
}

func guard(engine *authcore.Engine, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := check(r, engine, permission, ClientIP(r))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authcore.WithAuthResult(r.Context(), res)))
		})
	}
}

func check(r *http.Request, engine *authcore.Engine, permission, clientIP string) (*authcore.AuthResult, error) {
	if engine == nil {
		return nil, authcore.ErrEngineNotReady
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, errMissingBearer
	}
	ctx := authcore.WithClientIP(r.Context(), clientIP)
	if permission == "" {
		return engine.Authenticate(ctx, token)
	}
	return engine.Authorize(ctx, token, permission)
}

// WriteError writes err as an authcore.ErrorBody with the matching status.
// 401 responses also carry a Bearer challenge.
func WriteError(w http.ResponseWriter, err error) {
	status := authcore.StatusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", bearerChallenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authcore.NewErrorBody(err))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// ClientIP returns the host of the connection's remote address. Forwarding
// headers are ignored: plain net/http has no notion of a trusted proxy. Behind
// a proxy use the gin adapters, which honour gin's trusted proxy list.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
