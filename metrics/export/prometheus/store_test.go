package prometheus

import (
	"context"

	"github.com/coursemart/authcore/session"
)

// nopStore satisfies session.Store for engines that only verify tokens.
type nopStore struct{}

func (nopStore) Record(context.Context, session.Record) error         { return nil }
func (nopStore) Revoke(context.Context, string) error                 { return nil }
func (nopStore) RevokeAll(context.Context, string) error              { return nil }
func (nopStore) RevokeSession(context.Context, string) error          { return nil }
func (nopStore) IsLive(context.Context, string) (bool, error)         { return false, nil }
func (nopStore) Rotate(context.Context, string, session.Record) error { return nil }
