// Package flows contains pure-function orchestrators for the Engine's token operations.
//
// Each flow function (RunAuthorize, RunRefresh, RunLogout) accepts a typed
// dependency struct and returns a classified result. The Engine maps the
// classification onto public errors, metrics and audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the session store, the token codec and
// the refresh throttle. They do NOT own any of these resources; ownership
// stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency interfaces.
package flows
