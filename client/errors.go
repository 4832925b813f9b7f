package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when the session has no usable credentials,
	// including after a failed refresh.
	ErrUnauthenticated = errors.New("client: unauthenticated")
	// ErrGateClosed is returned to callers waiting on a gate that was closed.
	ErrGateClosed = errors.New("client: gate closed")
	// ErrCredentialRejected is the sign-out cause when the server refuses the
	// access token as revoked or malformed.
	ErrCredentialRejected = errors.New("client: credential rejected")
)

// RefreshError is a refresh exchange rejected by the server.
type RefreshError struct {
	Status  int
	Kind    string
	Message string
}

func (e *RefreshError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("refresh failed with status %d", e.Status)
	}
	return fmt.Sprintf("refresh failed: %s (status %d)", e.Kind, e.Status)
}
