package domain

// Well-known CRM roles. Only admin changes behaviour inside this core.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// User is the slice of the CRM user record the security core needs.
// Full user storage belongs to the host application.
type User struct {
	ID       string
	Email    string
	Role     string
	IsActive bool
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
