package permission

import (
	"errors"
	"fmt"
	"sort"
)

// Roles of the marketplace. A principal holds exactly one.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// Permissions of the marketplace.
const (
	CourseRead    = "course:read"
	CourseCreate  = "course:create"
	CourseUpdate  = "course:update"
	CoursePublish = "course:publish"
	CourseDelete  = "course:delete"

	LessonRead   = "lesson:read"
	LessonCreate = "lesson:create"
	LessonUpdate = "lesson:update"
	LessonDelete = "lesson:delete"

	EnrollmentCreate = "enrollment:create"
	EnrollmentRead   = "enrollment:read"

	PaymentCreate = "payment:create"
	PaymentRead   = "payment:read"
	PaymentRefund = "payment:refund"

	UserRead       = "user:read"
	UserUpdate     = "user:update"
	UserDelete     = "user:delete"
	UserDeactivate = "user:deactivate"
	UserRole       = "user:role"
)

// Table is an immutable role to permission-set lookup.
type Table struct {
	registry *Registry
	roles    *RoleManager
	names    []string
}

// NewTable registers permissions in order, compiles grants per role and freezes
// the result. Every granted permission must appear in permissions.
func NewTable(permissions []string, grants map[string][]string) (*Table, error) {
	if len(grants) == 0 {
		return nil, errors.New("permission table needs at least one role")
	}

	width := 64
	if len(permissions) > 64 {
		width = 128
	}
	registry, err := NewRegistry(width)
	if err != nil {
		return nil, err
	}
	for _, p := range permissions {
		if _, err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	roles := NewRoleManager(registry)
	names := make([]string, 0, len(grants))
	for role, perms := range grants {
		if err := roles.RegisterRole(role, perms); err != nil {
			return nil, fmt.Errorf("role %q: %w", role, err)
		}
		names = append(names, role)
	}
	roles.Freeze()
	sort.Strings(names)

	return &Table{registry: registry, roles: roles, names: names}, nil
}

// Allows reports whether role grants perm. Unknown roles and unknown
// permissions are denied.
func (t *Table) Allows(role, perm string) bool {
	mask, ok := t.roles.GetMask(role)
	if !ok {
		return false
	}
	bit, ok := t.registry.Bit(perm)
	if !ok {
		return false
	}
	return mask.Has(bit)
}

// HasRole reports whether role is defined.
func (t *Table) HasRole(role string) bool {
	_, ok := t.roles.GetMask(role)
	return ok
}

// Roles returns the defined role names, sorted.
func (t *Table) Roles() []string {
	return append([]string(nil), t.names...)
}

// Permissions returns the permissions granted to role in registration order.
func (t *Table) Permissions(role string) []string {
	mask, ok := t.roles.GetMask(role)
	if !ok {
		return nil
	}
	var out []string
	for bit := 0; bit < t.registry.Count(); bit++ {
		if !mask.Has(bit) {
			continue
		}
		if name, ok := t.registry.Name(bit); ok {
			out = append(out, name)
		}
	}
	return out
}

// Catalog lists every marketplace permission.
var Catalog = []string{
	CourseRead, CourseCreate, CourseUpdate, CoursePublish, CourseDelete,
	LessonRead, LessonCreate, LessonUpdate, LessonDelete,
	EnrollmentCreate, EnrollmentRead,
	PaymentCreate, PaymentRead, PaymentRefund,
	UserRead, UserUpdate, UserDelete, UserDeactivate, UserRole,
}

// Grants is the reviewed role assignment for the marketplace.
var Grants = map[string][]string{
	RoleStudent: {
		CourseRead, LessonRead,
		EnrollmentCreate, EnrollmentRead,
		PaymentCreate, PaymentRead,
	},
	RoleInstructor: {
		CourseRead, CourseCreate, CourseUpdate, CoursePublish,
		LessonRead, LessonCreate, LessonUpdate, LessonDelete,
		EnrollmentRead,
		PaymentRead,
	},
	RoleAdmin: Catalog,
}

// Default builds the marketplace table from [Catalog] and [Grants].
func Default() *Table {
	t, err := NewTable(Catalog, Grants)
	if err != nil {
		panic("permission: invalid default table: " + err.Error())
	}
	return t
}
