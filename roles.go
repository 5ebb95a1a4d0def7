package accounts

// Role is the closed set of account roles
type Role string

const (
	// RoleStudent enrolls in courses, approved on registration
	RoleStudent Role = "student"
	// RoleInstructor publishes courses, requires admin approval
	RoleInstructor Role = "instructor"
	// RoleAdmin approves and suspends accounts, requires admin approval
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	default:
		return false
	}
}

// RequiresApproval is true for roles that stay inactive until an admin
// approves them.
func (r Role) RequiresApproval() bool {
	return r == RoleInstructor || r == RoleAdmin
}

// IsPrivileged roles can only be assigned by an admin
func (r Role) IsPrivileged() bool {
	return r.RequiresApproval()
}

func (r Role) String() string {
	return string(r)
}

// AllRoles returns the roles in ascending privilege order
func AllRoles() []Role {
	return []Role{
		RoleStudent,
		RoleInstructor,
		RoleAdmin,
	}
}

// ParseRole safely parses a string into a Role. An empty string defaults to
// student.
func ParseRole(roleStr string) (Role, bool) {
	if roleStr == "" {
		return RoleStudent, true
	}
	role := Role(roleStr)
	return role, role.IsValid()
}
