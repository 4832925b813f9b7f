// Package httpapi serves the session endpoints of authcore over gin:
// refresh, logout, logout-all, /auth/me and the admin principal routes.
//
// The refresh endpoint implements the wire contract consumed by the client
// package: POST /auth/refresh with {"refreshToken"}, answered with a token
// pair or an authcore.ErrorBody.
package httpapi
