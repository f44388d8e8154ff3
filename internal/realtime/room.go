package realtime

import (
	"log/slog"
)

// session is the multiplexer's view of a live connection. *Client implements
// it; tests substitute in-memory fakes.
type session interface {
	ID() string
	UserID() string
	SendEvent(event *Event) error
}

// Multiplexer maps room keys to the set of connections subscribed to them.
// Rooms are created lazily on first join and deleted the moment their member
// set becomes empty; there is no TTL or idle sweep. Like the Registry it is
// only ever touched from the Dispatcher's run loop.
type Multiplexer struct {
	// room key -> connection id -> session
	members map[string]map[string]session

	logger *slog.Logger
}

func NewMultiplexer(logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		members: make(map[string]map[string]session),
		logger:  logger,
	}
}

// Join adds the connection to the room's member set. Joining twice is a no-op.
func (m *Multiplexer) Join(sess session, roomKey string) {
	room, ok := m.members[roomKey]
	if !ok {
		room = make(map[string]session)
		m.members[roomKey] = room
	}
	room[sess.ID()] = sess
}

// Leave removes the membership. If the member set becomes empty the room
// entry is deleted to bound memory growth.
func (m *Multiplexer) Leave(connID, roomKey string) {
	room, ok := m.members[roomKey]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.members, roomKey)
	}
}

// Broadcast sends the event to every member of the room except the optional
// excluded sender and returns the number of successful deliveries. Delivery
// is fire-and-forget per connection: a write failure on one transport is
// logged and never aborts delivery to the rest of the room.
func (m *Multiplexer) Broadcast(roomKey string, event *Event, excludeConnID string) int {
	delivered := 0
	for connID, sess := range m.members[roomKey] {
		if connID == excludeConnID {
			continue
		}
		if err := sess.SendEvent(event); err != nil {
			m.logger.Warn("Failed to deliver event",
				"room", roomKey, "connID", connID, "type", event.Type, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// MemberCount returns the size of a room's member set.
func (m *Multiplexer) MemberCount(roomKey string) int {
	return len(m.members[roomKey])
}

// MemberUserIDs returns the user ids currently present in a room.
func (m *Multiplexer) MemberUserIDs(roomKey string) []string {
	users := make([]string, 0, len(m.members[roomKey]))
	for _, sess := range m.members[roomKey] {
		users = append(users, sess.UserID())
	}
	return users
}

// RoomCount returns the number of rooms with at least one member.
func (m *Multiplexer) RoomCount() int {
	return len(m.members)
}
