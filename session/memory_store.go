package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	rec     Record
	revoked bool
}

// MemoryStore is an in-process [Store] guarded by a single mutex. It suits tests
// and single-instance deployments; state is lost on restart.
type MemoryStore struct {
	mu        sync.Mutex
	tokens    map[string]*memoryEntry
	sessions  map[string]map[string]struct{}
	subjects  map[string]map[string]struct{}
	now       func() time.Time
	lastPrune time.Time
}

// MemoryOption configures a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tokens:   make(map[string]*memoryEntry),
		sessions: make(map[string]map[string]struct{}),
		subjects: make(map[string]map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Record(_ context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[rec.ID]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRecorded, rec.ID)
	}
	s.pruneLocked()
	s.insertLocked(rec)
	return nil
}

func (s *MemoryStore) insertLocked(rec Record) {
	s.tokens[rec.ID] = &memoryEntry{rec: rec}
	addToSet(s.sessions, rec.SessionID, rec.ID)
	addToSet(s.subjects, rec.Subject, rec.SessionID)
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tokens[id]; ok {
		e.revoked = true
	}
	return nil
}

func (s *MemoryStore) RevokeSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeSessionLocked(sessionID)
	return nil
}

func (s *MemoryStore) revokeSessionLocked(sessionID string) {
	for id := range s.sessions[sessionID] {
		if e, ok := s.tokens[id]; ok {
			e.revoked = true
		}
	}
}

func (s *MemoryStore) RevokeAll(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid := range s.subjects[subject] {
		s.revokeSessionLocked(sid)
	}
	return nil
}

func (s *MemoryStore) IsLive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[id]
	if !ok || e.revoked {
		return false, nil
	}
	return s.now().Before(e.rec.ExpiresAt), nil
}

func (s *MemoryStore) Rotate(_ context.Context, presentedID string, next Record) error {
	if err := validateRotate(presentedID, next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[presentedID]
	switch {
	case !ok:
		return ErrNotFound
	case e.revoked:
		return ErrRevoked
	case e.rec.SessionID != next.SessionID || e.rec.Subject != next.Subject:
		return ErrSessionMismatch
	case !s.now().Before(e.rec.ExpiresAt):
		return ErrExpired
	}
	if _, exists := s.tokens[next.ID]; exists {
		return ErrSessionMismatch
	}

	e.revoked = true
	s.insertLocked(next)
	return nil
}

// Len returns the number of ids held, live or revoked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// pruneLocked drops ids past their expiry at most once a minute. Expired ids can
// no longer verify as tokens, so forgetting them loses nothing.
func (s *MemoryStore) pruneLocked() {
	now := s.now()
	if now.Sub(s.lastPrune) < time.Minute {
		return
	}
	s.lastPrune = now
	for id, e := range s.tokens {
		if now.Before(e.rec.ExpiresAt) {
			continue
		}
		delete(s.tokens, id)
		removeFromSet(s.sessions, e.rec.SessionID, id)
		if len(s.sessions[e.rec.SessionID]) == 0 {
			removeFromSet(s.subjects, e.rec.Subject, e.rec.SessionID)
		}
	}
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}
