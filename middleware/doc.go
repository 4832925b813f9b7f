// Package middleware exposes HTTP guards built on authcore.Engine.Authorize.
//
// # Guards
//
//   - [Require] checks a bearer access token and one permission (net/http).
//   - [RequireAuthenticated] checks only that the token is valid.
//   - [Gin] and [GinAuthenticated] are the same guards as gin handlers.
//
// A rejected request gets the status from authcore.StatusFor and an
// authcore.ErrorBody JSON body. An accepted request carries the verified
// authcore.AuthResult on its context, read back with authcore.AuthResultFromContext.
//
// Guards never refresh, never retry and never touch the revocation store:
// renewing an expired token is the client's job.
package middleware
