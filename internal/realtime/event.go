package realtime

import (
	"fmt"
	"strings"
	"time"
)

// EventType represents the type of a realtime event using a custom enum type
// for better type safety.
type EventType string

const (
	// Connection events
	EventConnectionEstablished EventType = "connection.established"

	// Inbound room events
	EventTradeJoin    EventType = "trade.join"
	EventTradeLeave   EventType = "trade.leave"
	EventTradeMessage EventType = "trade.message"
	EventNotifyJoin   EventType = "notify.join"

	// Outbound room events
	EventMessageNew      EventType = "message.new"
	EventPresenceJoined  EventType = "presence.joined"
	EventPresenceLeft    EventType = "presence.left"
	EventCountsUpdate    EventType = "counts.update"
	EventNotificationNew EventType = "notification.new"

	// Error events
	EventError EventType = "error"
)

// String returns the string representation of the EventType.
func (et EventType) String() string {
	return string(et)
}

// IsValid checks if the EventType is a valid enum value.
func (et EventType) IsValid() bool {
	switch et {
	case EventConnectionEstablished, EventTradeJoin, EventTradeLeave,
		EventTradeMessage, EventNotifyJoin, EventMessageNew,
		EventPresenceJoined, EventPresenceLeft, EventCountsUpdate,
		EventNotificationNew, EventError:
		return true
	default:
		return false
	}
}

// IsInbound reports whether clients are allowed to send this event type.
func (et EventType) IsInbound() bool {
	switch et {
	case EventTradeJoin, EventTradeLeave, EventTradeMessage, EventNotifyJoin:
		return true
	default:
		return false
	}
}

// Event is the tagged message exchanged over a connection. Timestamp is
// always server-assigned; values supplied by clients are overwritten.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Room      string         `json:"room,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
}

// Validate validates the event structure and type.
func (e *Event) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	return nil
}

// Room key kinds. A room key has the form "<kind>:<entity-id>".
const (
	RoomKindTrade = "trade"
	RoomKindUser  = "user"
)

// TradeRoom returns the room key for a trade conversation.
func TradeRoom(tradeID string) string {
	return RoomKindTrade + ":" + tradeID
}

// UserRoom returns the room key for a user's personal notification channel.
func UserRoom(userID string) string {
	return RoomKindUser + ":" + userID
}

// SplitRoomKey splits a room key into its kind and entity id.
func SplitRoomKey(key string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("malformed room key: %q", key)
	}
	return kind, id, nil
}

// Counts is the per-user aggregate pushed to the personal notification room
// whenever a count-affecting action occurs.
type Counts struct {
	ActiveTrades        int64 `json:"active_trades"`
	UnreadMessages      int64 `json:"unread_messages"`
	UnreadNotifications int64 `json:"unread_notifications"`
}

// NewEvent creates a new event with the specified type and data.
func NewEvent(id string, eventType EventType, room, userID string, data map[string]any) *Event {
	if data == nil {
		data = make(map[string]any)
	}
	return &Event{
		ID:        id,
		Type:      eventType,
		Room:      room,
		Data:      data,
		Timestamp: time.Now().Unix(),
		UserID:    userID,
	}
}

// NewConnectionEstablishedEvent creates the ack sent after a successful handshake.
func NewConnectionEstablishedEvent(id, connID, userID string) *Event {
	return NewEvent(id, EventConnectionEstablished, "", userID, map[string]any{
		"connection_id": connID,
		"status":        "connected",
	})
}

// NewErrorEvent creates an error event addressed to a single connection.
func NewErrorEvent(id, userID, code, message string) *Event {
	return NewEvent(id, EventError, "", userID, map[string]any{
		"code":    code,
		"message": message,
	})
}

// NewMessageEvent creates the delivery event for a trade message.
func NewMessageEvent(id, room, userID string, payload map[string]any) *Event {
	return NewEvent(id, EventMessageNew, room, userID, payload)
}

// NewPresenceEvent creates a presence.joined or presence.left event.
func NewPresenceEvent(id string, eventType EventType, room, userID string) *Event {
	return NewEvent(id, eventType, room, userID, map[string]any{
		"user_id": userID,
	})
}

// NewCountsEvent creates a counts.update event for a user's personal room.
func NewCountsEvent(id, userID string, counts Counts) *Event {
	return NewEvent(id, EventCountsUpdate, UserRoom(userID), userID, map[string]any{
		"active_trades":        counts.ActiveTrades,
		"unread_messages":      counts.UnreadMessages,
		"unread_notifications": counts.UnreadNotifications,
	})
}

// NewNotificationEvent creates a notification.new event for a user's personal room.
func NewNotificationEvent(id, userID string, data map[string]any) *Event {
	return NewEvent(id, EventNotificationNew, UserRoom(userID), userID, data)
}
