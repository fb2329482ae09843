package enums

import "fmt"

// UserRole represents a platform permissions role. Roles form an ordered
// capability set: regular < cashier < manager < superuser.
type UserRole string

const (
	UserRoleRegular   UserRole = "regular"
	UserRoleCashier   UserRole = "cashier"
	UserRoleManager   UserRole = "manager"
	UserRoleSuperuser UserRole = "superuser"
)

var validUserRoles = []UserRole{
	UserRoleRegular,
	UserRoleCashier,
	UserRoleManager,
	UserRoleSuperuser,
}

var userRoleRank = map[UserRole]int{
	UserRoleRegular:   0,
	UserRoleCashier:   1,
	UserRoleManager:   2,
	UserRoleSuperuser: 3,
}

// String implements fmt.Stringer.
func (r UserRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known UserRole.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// AtLeast reports whether the role carries at least the capability of min.
func (r UserRole) AtLeast(min UserRole) bool {
	rank, ok := userRoleRank[r]
	if !ok {
		return false
	}
	minRank, ok := userRoleRank[min]
	if !ok {
		return false
	}
	return rank >= minRank
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
