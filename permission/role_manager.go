package permission

import (
	"errors"
	"sync"
)

// RoleManager compiles each role's permission list into a mask over a [Registry].
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask
	frozen bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// RegisterRole compiles permissionNames into a mask for roleName. Every
// permission must already be registered.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered: " + roleName)
	}

	var mask Mask
	switch rm.registry.MaxBits() {
	case 64:
		m := Mask64(0)
		mask = &m
	case 128:
		mask = &Mask128{}
	default:
		return errors.New("invalid maxBits")
	}

	for _, perm := range permissionNames {
		bit, ok := rm.registry.Bit(perm)
		if !ok {
			return errors.New("permission not registered: " + perm)
		}
		mask.Set(bit)
	}

	rm.roles[roleName] = mask
	return nil
}

// GetMask returns the compiled mask for roleName.
func (rm *RoleManager) GetMask(roleName string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	return mask, ok
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
