package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Registry maps permission names to bit positions within a bitmask.
// Supports widths of 64 or 128 bits.
type Registry struct {
	maxBits int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates a permission [Registry]. maxBits selects the mask width (64 or 128).
func NewRegistry(maxBits int) (*Registry, error) {
	if maxBits != 64 && maxBits != 128 {
		return nil, errors.New("invalid maxBits")
	}

	return &Registry{
		maxBits:   maxBits,
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}, nil
}

// Register assigns the next available bit to the named permission.
// Names must have the form "resource:action". Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if err := ValidateName(name); err != nil {
		return -1, err
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered: " + name)
	}

	nextBit := len(r.nameToBit)
	if nextBit >= r.maxBits {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// ValidateName reports whether name is a well-formed "resource:action" string.
func ValidateName(name string) error {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return fmt.Errorf("permission %q must have the form resource:action", name)
	}
	if strings.TrimSpace(name) != name || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("permission %q contains whitespace", name)
	}
	return nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// MaxBits returns the mask width.
func (r *Registry) MaxBits() int { return r.maxBits }

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
