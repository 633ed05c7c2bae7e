package core

import "time"

// Message is the domain model for a chat message. Once persisted it is
// immutable; the relay only copies it outward.
type Message struct {
	ID        int64
	Room      string
	Username  string
	Content   string
	CreatedAt time.Time
}
