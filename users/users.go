package users

// Role represents a user's role as issued by the backend. Roles form a total
// order used for menu visibility and for sorting user lists:
// Super Admin > Admin > Editor > Readonly.
type Role string

const (
	RoleSuperAdmin Role = "Super Admin" // Can manage organizations, users and every database connection
	RoleAdmin      Role = "Admin"       // Can manage users and database connections
	RoleEditor     Role = "Editor"      // Can run queries and edit own resources
	RoleReadonly   Role = "Readonly"    // Read-only access
)

// roleRank maps each role to its position in the hierarchy. Higher is more
// privileged. Unknown roles rank below Readonly.
var roleRank = map[Role]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleEditor:     2,
	RoleReadonly:   1,
}

// Rank returns the role's position in the hierarchy, 0 for unknown roles.
func (r Role) Rank() int {
	return roleRank[r]
}

// Known reports whether the role is one of the four defined roles.
func (r Role) Known() bool {
	return r.Rank() > 0
}

// AtLeast reports whether the role is at least as privileged as other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Less orders roles most-privileged first, matching the admin panel's user
// list sort.
func Less(a, b Role) bool {
	return a.Rank() > b.Rank()
}

// User is the denormalized identity cached alongside the bearer token.
// Fields mirror the claims the backend embeds in its JWTs.
type User struct {
	ID           int64  `json:"id"`
	Role         Role   `json:"role"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	IsSuperAdmin bool   `json:"is_super_admin,omitempty"`
}

// HasRole reports whether the user's role is in the allowed set. An empty
// set admits any role.
func (u *User) HasRole(allowed []Role) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if u.Role == r {
			return true
		}
	}
	return false
}
