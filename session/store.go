package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Rotate when the presented id was never recorded or has expired out of the store.
	ErrNotFound = errors.New("refresh token id not found")
	// ErrRevoked is returned by Rotate when the presented id exists but is no longer live.
	ErrRevoked = errors.New("refresh token id revoked")
	// ErrExpired is returned by Rotate when the presented id reached its expiry.
	ErrExpired = errors.New("refresh token id expired")
	// ErrSessionMismatch is returned by Rotate when the successor does not belong to the presented id's session.
	ErrSessionMismatch = errors.New("refresh token id belongs to another session")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrInvalidRecord is returned for records missing an id, session, subject or expiry.
	ErrInvalidRecord = errors.New("invalid refresh record")
	// ErrAlreadyRecorded is returned when an id was recorded before.
	ErrAlreadyRecorded = errors.New("refresh token id already recorded")
)

// Record is one issued refresh-token identifier.
type Record struct {
	ID        string
	SessionID string
	Subject   string
	ExpiresAt time.Time
}

func (r Record) validate() error {
	if r.ID == "" || r.SessionID == "" || r.Subject == "" || r.ExpiresAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// Store is the revocation record of refresh-token identifiers.
//
// Implementations must make Revoke, RevokeAll and RevokeSession visible to the
// next IsLive or Rotate call, and Rotate must be atomic with respect to
// concurrent calls presenting the same id.
type Store interface {
	// Record stores a new live id.
	Record(ctx context.Context, rec Record) error
	// Revoke marks one id as no longer live. Unknown ids are ignored.
	Revoke(ctx context.Context, id string) error
	// RevokeAll revokes every id ever recorded for subject.
	RevokeAll(ctx context.Context, subject string) error
	// RevokeSession revokes every id of one login session.
	RevokeSession(ctx context.Context, sessionID string) error
	// IsLive reports whether id is recorded, unrevoked and unexpired.
	IsLive(ctx context.Context, id string) (bool, error)
	// Rotate revokes presentedID and records next in one step. It fails with
	// ErrRevoked, ErrNotFound, ErrExpired or ErrSessionMismatch without
	// changing any state when presentedID is not live.
	Rotate(ctx context.Context, presentedID string, next Record) error
}

func validateRotate(presentedID string, next Record) error {
	if presentedID == "" {
		return ErrNotFound
	}
	if err := next.validate(); err != nil {
		return err
	}
	if next.ID == presentedID {
		return errors.New("successor id must differ from presented id")
	}
	return nil
}
