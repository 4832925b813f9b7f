package authcore

import (
	"context"
	"sync"
)

// MemoryPrincipals is an in-memory [PrincipalAdmin] for tests and single-process demos.
type MemoryPrincipals struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

func NewMemoryPrincipals(principals ...Principal) *MemoryPrincipals {
	m := &MemoryPrincipals{principals: make(map[string]Principal, len(principals))}
	for _, p := range principals {
		m.principals[p.ID] = p
	}
	return m
}

// Put inserts or replaces p.
func (m *MemoryPrincipals) Put(p Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[p.ID] = p
}

func (m *MemoryPrincipals) GetPrincipal(_ context.Context, id string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (m *MemoryPrincipals) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Active = active
	m.principals[id] = p
	return nil
}

func (m *MemoryPrincipals) SetRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.Role = role
	m.principals[id] = p
	return nil
}
