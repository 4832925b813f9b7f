// Package authcore is the session and token core of the course marketplace: it
// issues short-lived access tokens and rotating refresh tokens, resolves roles
// to permissions, and keeps concurrent refreshes of one token down to a single
// winner.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], the
// error taxonomy and value types. Flow orchestration, id generation, refresh
// throttling and audit dispatch live under internal/. Token signing lives in
// jwt, revocation state in session, and the role table in permission.
//
// # What this package must NOT do
//
//   - Consult revocation state while authorizing; access tokens are stateless.
//   - Retry a failed verification or refresh on the caller's behalf.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// Authorize is the hot path and makes no network round-trips. Refresh makes one
// store round-trip for rotation plus one principal lookup.
package authcore
