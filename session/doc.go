// Package session tracks issued refresh-token identifiers so they can be revoked
// before their natural expiry.
//
// Every refresh token id belongs to one login session (sid) and one subject.
// Exactly one id per session is live at a time: [Store.Rotate] retires the
// presented id and records its successor as a single compare-and-swap, so two
// exchanges racing on the same id resolve with one winner. Revocation is visible
// to [Store.IsLive] as soon as the call returns.
//
// Three backends are provided: [RedisStore] (Lua scripts over go-redis),
// [SQLStore] (conditional UPDATE inside a transaction) and [MemoryStore].
//
// This package does not verify tokens or make authorization decisions.
package session
