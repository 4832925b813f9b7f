// Package internal holds helpers private to authcore.
//
// # Sub-packages
//
//   - audit: async dispatcher feeding the configured audit sink
//   - flows: pure-function orchestrators for every Engine operation
//   - ids: refresh token and session identifiers
//   - rate: Redis fixed-window refresh throttle
//   - config: authd daemon configuration loading
package internal
