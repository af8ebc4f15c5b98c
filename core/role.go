package core

import (
	"fmt"
	"strings"
)

// Role is the closed set of privilege levels a user can hold.
// Privilege is totally ordered: RoleTeacher < RoleAdmin < RoleSuperAdmin.
type Role string

const (
	RoleTeacher    Role = "TEACHER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// rank maps roles to their position in the privilege order.
var rank = map[Role]int{
	RoleTeacher:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole converts a string into a Role, rejecting anything outside the
// closed enumeration. Matching is case-insensitive to be forgiving at the API
// boundary; stored values are always the canonical uppercase form.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// AtLeast reports whether r grants at least the privilege of min.
// Unknown roles never satisfy any requirement.
func (r Role) AtLeast(min Role) bool {
	ra, ok := rank[r]
	if !ok {
		return false
	}
	rb, ok := rank[min]
	if !ok {
		return false
	}
	return ra >= rb
}

func (r Role) String() string { return string(r) }
