package core

import "sync"

// Room groups clients subscribed to the same channel and fans broadcasts out
// to them. All membership and fan-out operations are serialized by the room
// mutex; delivery into a member's queue never blocks, so the mutex is never
// held across I/O.
type Room struct {
	Name string

	mu      sync.Mutex
	members map[*Client]struct{}
	closed  bool
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		members: make(map[*Client]struct{}),
	}
}

// Join inserts a client into the room. Returns ErrRoomClosed if the room has
// been removed from its registry; the caller must resolve the room again.
// Joining twice is a no-op.
func (r *Room) Join(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	r.members[c] = struct{}{}
	return nil
}

// Leave deletes a client from the room. It is idempotent: leaving a room the
// client is not in is a no-op. Returns true if the room is now empty.
func (r *Room) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, c)
	return len(r.members) == 0
}

// Broadcast delivers a message to every currently-joined member except
// exclude, which may be nil to reach everyone (the relay echoes the sender's
// own messages, so it always passes nil). Delivery is a non-blocking push
// into each member's bounded queue; members whose queue is full miss the
// message (counted on the client). Holding the mutex across the loop
// linearizes broadcasts per room, so every member observes the same relative
// order.
func (r *Room) Broadcast(msg *Message, exclude *Client) (delivered, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for member := range r.members {
		if member == exclude {
			continue
		}
		if member.Deliver(msg) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// closeIfEmpty marks the room closed when it has no members, so that a join
// racing its removal fails and retries instead of landing in an orphaned hub.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}
