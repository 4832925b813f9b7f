// Package jwt issues and verifies the two credential kinds of a login session:
// short-lived access tokens carrying subject and role, and longer-lived refresh
// tokens carrying a rotating token id. Each kind is signed with its own key.
package jwt
