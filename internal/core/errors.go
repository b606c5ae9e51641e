package core

import "errors"

var (
	// ErrRoomNotFound is returned when an operation targets an unknown room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when creating a room whose name is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrAlreadyRegistered is returned when a connection is registered while
	// it is still a member of a room. This is a programmer error, not a
	// recoverable user-facing condition.
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// AuthErrorKind classifies why token verification failed.
type AuthErrorKind int

const (
	AuthMissing AuthErrorKind = iota
	AuthExpired
	AuthMalformed
	AuthInvalidSignature
)

// AuthError is returned by a TokenVerifier; it always maps to a
// policy-violation close on the connection path.
type AuthError struct {
	Kind   AuthErrorKind
	Reason string
}

func (e *AuthError) Error() string {
	return e.Reason
}

// CloseReason is the human-readable reason sent alongside the close code.
func (e *AuthError) CloseReason() string {
	switch e.Kind {
	case AuthMissing:
		return "token required"
	case AuthExpired:
		return "token expired"
	default:
		return "invalid token"
	}
}
