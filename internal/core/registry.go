package core

import "sync"

// Registry maps room names to their single authoritative Room instance.
// Rooms are created lazily on first join and removed eagerly once empty, so
// the process never accumulates hubs for rooms nobody is in.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for name, creating it if absent. Concurrent
// calls with the same name always observe the same instance.
func (g *Registry) GetOrCreate(name string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[name]; ok {
		return room
	}
	room := NewRoom(name)
	g.rooms[name] = room
	return room
}

// Join resolves the room for name and adds the client to it, retrying when
// the resolved room was concurrently removed. A join can therefore never be
// dropped by cleanup of an emptying room.
func (g *Registry) Join(name string, c *Client) *Room {
	for {
		room := g.GetOrCreate(name)
		if err := room.Join(c); err == nil {
			return room
		}
	}
}

// Remove deletes the named room if it is still empty. The room is marked
// closed under its own lock first, so a concurrent Join observes the closure
// and retries against a fresh instance. Returns true if the room was removed.
func (g *Registry) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[name]
	if !ok {
		return false
	}
	if !room.closeIfEmpty() {
		return false
	}
	delete(g.rooms, name)
	return true
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
