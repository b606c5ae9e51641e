package core

// Role describes a verified permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Identity carries a verified username and role for the lifetime of one
// connection. The role is fixed at token verification time; role changes take
// effect on the next connection.
type Identity struct {
	Username string
	Role     Role
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// TokenVerifier validates a bearer token and yields the identity it encodes.
// Failures are *AuthError values.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}
