package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("already exists")
)

// Role describes a user's permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Room represents a chat room. Rooms are identified by their unique name.
type Room struct {
	Name         string
	Description  string
	IsRestricted bool
	CreatedBy    string
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	Room      string
	Author    string
	Content   string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	// Returns ErrAlreadyExists if the username or email is taken.
	CreateUser(ctx context.Context, username, email, passwordHash string, role Role) (*User, error)

	// GetUserByUsername retrieves a user by username.
	// Returns ErrNotFound if no such user exists.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room.
	// Returns ErrAlreadyExists if the name is taken.
	CreateRoom(ctx context.Context, name, description string, restricted bool, createdBy string) (*Room, error)

	// GetRoom retrieves a room by name. Returns ErrNotFound if absent.
	GetRoom(ctx context.Context, name string) (*Room, error)

	// ListRooms lists all rooms ordered by creation time.
	ListRooms(ctx context.Context) ([]*Room, error)

	// DeleteRoomCascade removes a room and all of its messages in one
	// transaction. Returns ErrNotFound if the room does not exist.
	DeleteRoomCascade(ctx context.Context, name string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists a message to storage.
	AppendMessage(ctx context.Context, room, author, content string, createdAt time.Time) (*Message, error)

	// RecentMessages returns up to limit messages from a room,
	// newest first. Callers replaying history must reverse the order.
	RecentMessages(ctx context.Context, room string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
