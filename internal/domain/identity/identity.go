package identity

import "errors"

var ErrUnauthenticated = errors.New("identity: missing principal")

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller as asserted by the upstream auth gateway.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Owns reports whether the principal is the given user or an admin.
func (p Principal) Owns(userID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == userID)
}
