package realtime

import (
	"fmt"
)

var (
	ErrNoAuthContext  = fmt.Errorf("authentication context is absent")
	ErrAlreadyTracked = fmt.Errorf("connection is already registered")
)

// Registry tracks each live connection, its authenticated identity and the
// set of rooms it has joined. It is mutated only by the Dispatcher's run
// loop, so it carries no locking of its own.
type Registry struct {
	// connection id -> authenticated user id
	users map[string]string

	// connection id -> set of joined room keys
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]string),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register binds a connection to its authenticated user. It is called once
// per successful handshake and rejects connections without an identity.
func (r *Registry) Register(connID, userID string) error {
	if userID == "" {
		return ErrNoAuthContext
	}
	if _, ok := r.users[connID]; ok {
		return ErrAlreadyTracked
	}
	r.users[connID] = userID
	r.rooms[connID] = make(map[string]struct{})
	return nil
}

// UserOf returns the authenticated user id bound to a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	userID, ok := r.users[connID]
	return userID, ok
}

// RecordJoin marks a room as joined. Joining a room already joined is a no-op.
func (r *Registry) RecordJoin(connID, roomKey string) {
	rooms, ok := r.rooms[connID]
	if !ok {
		return
	}
	rooms[roomKey] = struct{}{}
}

// RecordLeave removes a joined room. Leaving a room not joined is a no-op.
func (r *Registry) RecordLeave(connID, roomKey string) {
	delete(r.rooms[connID], roomKey)
}

// HasJoined reports whether the connection has joined the room.
func (r *Registry) HasJoined(connID, roomKey string) bool {
	_, ok := r.rooms[connID][roomKey]
	return ok
}

// RoomsOf returns the set of rooms the connection is currently in.
func (r *Registry) RoomsOf(connID string) []string {
	rooms := make([]string, 0, len(r.rooms[connID]))
	for roomKey := range r.rooms[connID] {
		rooms = append(rooms, roomKey)
	}
	return rooms
}

// Remove purges the connection and returns the rooms it was in, so the
// caller can emit leave notifications without a second lookup.
func (r *Registry) Remove(connID string) []string {
	rooms := r.RoomsOf(connID)
	delete(r.users, connID)
	delete(r.rooms, connID)
	return rooms
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.users)
}
