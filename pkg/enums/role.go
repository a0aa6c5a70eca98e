package enums

// UserRole is the caller's role carried in access tokens and checked on
// admin routes.
type UserRole string

const (
	RoleUser       UserRole = "user"
	RoleAdmin      UserRole = "admin"
	RoleSuperadmin UserRole = "superadmin"
)

var validUserRoles = []UserRole{
	RoleUser,
	RoleAdmin,
	RoleSuperadmin,
}

func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if r == candidate {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role may hit admin endpoints.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}
