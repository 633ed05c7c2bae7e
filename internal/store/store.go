package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Message represents a persisted chat message. Messages are append-only:
// once written they are never updated or deleted.
type Message struct {
	ID        int64
	Room      string
	Username  string
	Content   string
	CreatedAt time.Time
}

// UserStore handles user persistence for the auth service.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user bound to a session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a registered (non-guest) user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore is the durable append-only message log.
type MessageStore interface {
	// AppendMessage persists a message, assigning its id and timestamp
	// server-side, and returns the stored record.
	AppendMessage(ctx context.Context, room, username, content string) (*Message, error)

	// ListMessages returns the room's messages ordered by timestamp
	// ascending (ties broken by id). When limit > 0 only the most recent
	// limit messages are returned, still in ascending order.
	ListMessages(ctx context.Context, room string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close releases the underlying storage resources.
	Close() error
}
