package domain

import "strings"

// Role is the platform role carried by an authenticated identity.
type Role string

const (
	RoleCreator Role = "creator"
	RoleCompany Role = "company"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a role claim. Unknown or empty values fall back to creator.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCompany:
		return RoleCompany
	default:
		return RoleCreator
	}
}

// Identity is the request-scoped caller, resolved from the identity provider
// and passed explicitly into every ledger operation.
type Identity struct {
	UserID string
	Role   Role
}

// System is the identity used for settlements triggered by internal events.
var System = Identity{UserID: "system", Role: RoleAdmin}
