package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Schema creates the table used by [SQLStore] (PostgreSQL dialect).
const Schema = `
create table if not exists refresh_tokens (
	id          text primary key,
	session_id  text not null,
	subject     text not null,
	expires_at  timestamptz not null,
	revoked_at  timestamptz,
	created_at  timestamptz not null default now()
);
create index if not exists refresh_tokens_session_idx on refresh_tokens (session_id);
create index if not exists refresh_tokens_subject_idx on refresh_tokens (subject);
`

// SQLStore is a [Store] over database/sql. Rotation is a conditional UPDATE on
// revoked_at inside a transaction; the row lock taken by the first UPDATE makes a
// concurrent second one match zero rows.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Migrate applies [Schema].
func (s *SQLStore) Migrate(ctx context.Context) error {
	const op = "session.SQLStore.Migrate"
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, rec Record) error {
	const op = "session.SQLStore.Record"
	if err := rec.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens (id, session_id, subject, expires_at) values ($1, $2, $3, $4)`,
		rec.ID, rec.SessionID, rec.Subject, rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return insertError(op, rec.ID, err)
	}
	return nil
}

func (s *SQLStore) Revoke(ctx context.Context, id string) error {
	const op = "session.SQLStore.Revoke"
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $1 where id = $2 and revoked_at is null`,
		s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) RevokeSession(ctx context.Context, sessionID string) error {
	const op = "session.SQLStore.RevokeSession"
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $1 where session_id = $2 and revoked_at is null`,
		s.now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) RevokeAll(ctx context.Context, subject string) error {
	const op = "session.SQLStore.RevokeAll"
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $1 where subject = $2 and revoked_at is null`,
		s.now().UTC(), subject,
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLStore) IsLive(ctx context.Context, id string) (bool, error) {
	const op = "session.SQLStore.IsLive"
	var (
		revokedAt sql.NullTime
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`select revoked_at, expires_at from refresh_tokens where id = $1`, id,
	).Scan(&revokedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return !revokedAt.Valid && s.now().Before(expiresAt), nil
}

func (s *SQLStore) Rotate(ctx context.Context, presentedID string, next Record) error {
	const op = "session.SQLStore.Rotate"
	if err := validateRotate(presentedID, next); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked_at = $1
		 where id = $2 and session_id = $3 and subject = $4 and revoked_at is null and expires_at > $1`,
		now, presentedID, next.SessionID, next.Subject,
	)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	if affected != 1 {
		return s.classifyRotateMiss(ctx, tx, presentedID, next, now)
	}

	_, err = tx.ExecContext(ctx,
		`insert into refresh_tokens (id, session_id, subject, expires_at) values ($1, $2, $3, $4)`,
		next.ID, next.SessionID, next.Subject, next.ExpiresAt.UTC(),
	)
	if err != nil {
		return insertError(op, next.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return nil
}

// classifyRotateMiss explains why the conditional update matched nothing.
func (s *SQLStore) classifyRotateMiss(ctx context.Context, tx *sql.Tx, presentedID string, next Record, now time.Time) error {
	const op = "session.SQLStore.Rotate"
	var (
		sessionID string
		subject   string
		revokedAt sql.NullTime
		expiresAt time.Time
	)
	err := tx.QueryRowContext(ctx,
		`select session_id, subject, revoked_at, expires_at from refresh_tokens where id = $1`, presentedID,
	).Scan(&sessionID, &subject, &revokedAt, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	case revokedAt.Valid:
		return ErrRevoked
	case sessionID != next.SessionID || subject != next.Subject:
		return ErrSessionMismatch
	case !now.Before(expiresAt):
		return ErrExpired
	default:
		// Row changed between the update and this read; another exchange won.
		return ErrRevoked
	}
}

// insertError separates a duplicate id from a backend failure.
func insertError(op, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %q", op, ErrAlreadyRecorded, id)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
