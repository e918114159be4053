package entity

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is an ordered enumeration; the zero value is Visitor.
type Role int

const (
	RoleVisitor Role = iota
	RoleExhibitor
	RoleVolunteer
	RolePartner
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = [...]string{"VISITOR", "EXHIBITOR", "VOLUNTEER", "PARTNER", "ADMIN", "SUPER_ADMIN"}

// rank collapses the three participant roles onto one tier.
var rank = [...]int{0, 1, 1, 1, 2, 3}

func (r Role) valid() bool { return r >= RoleVisitor && r <= RoleSuperAdmin }

// Rank is the position of r in the privilege order.
func (r Role) Rank() int {
	if !r.valid() {
		return -1
	}
	return rank[r]
}

func (r Role) String() string {
	if !r.valid() {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// AtLeast reports whether r sits at or above threshold in the hierarchy.
func AtLeast(r, threshold Role) bool {
	return r.valid() && threshold.valid() && r.Rank() >= threshold.Rank()
}

// ParseRole accepts the upper-case wire name, case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range roleNames {
		if n == s {
			return Role(i), nil
		}
	}
	return RoleVisitor, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Value stores the role by name so the column stays readable.
func (r Role) Value() (driver.Value, error) {
	if !r.valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return r.String(), nil
}

func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("role: unsupported scan type %T", src)
	}
}
