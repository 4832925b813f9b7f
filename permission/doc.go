// Package permission holds the static role to permission table consulted by the
// authorization guard.
//
// Permissions are "resource:action" strings. Each one is assigned a bit in a
// fixed-width mask ([Registry]) and each role is compiled to a mask
// ([RoleManager]) once, at table construction. A [Table] is frozen when built and
// is safe for concurrent reads.
//
// This package does no I/O and does not import the rest of the module.
package permission
