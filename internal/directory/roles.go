package directory

import (
	"fmt"
	"strings"
)

// Role is the system-wide role, totally ordered for authorization:
// admin > teacher > student.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Level returns the position of the role in the hierarchy; unknown
// roles rank below every valid role.
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleTeacher:
		return 2
	case RoleStudent:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the role is one of the known system roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

// Satisfies reports whether this role meets the requirement. Unknown
// roles on either side never authorize.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	return r.Level() >= required.Level()
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// TenantRole is the user's role within a tenant. It is independent of
// the system Role and never participates in the authorize hierarchy.
type TenantRole string

const (
	TenantRoleOwner  TenantRole = "owner"
	TenantRoleAdmin  TenantRole = "admin"
	TenantRoleMember TenantRole = "member"
)

// Valid reports whether the tenant role is known. The empty value is
// allowed on records (the field is optional) but is not itself valid.
func (r TenantRole) Valid() bool {
	switch r {
	case TenantRoleOwner, TenantRoleAdmin, TenantRoleMember:
		return true
	default:
		return false
	}
}
