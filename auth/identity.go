package auth

// Identity represents an authenticated caller surfaced into resolver
// context as the request's user.
type Identity struct {
	// UserID is the unique caller identifier (sub claim).
	UserID string

	// Email is the caller's email, when the token carries one.
	Email string

	// Roles are the roles assigned to this caller.
	Roles []string

	// Claims contains the raw claims from the token.
	Claims map[string]any
}

// HasRole checks if the identity has a specific role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAnonymous returns true for an unauthenticated caller.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.UserID == ""
}
