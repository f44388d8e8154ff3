package realtime

import (
	"log/slog"

	"github.com/google/uuid"
)

// Broadcaster is the Tracker's view of the Dispatcher.
type Broadcaster interface {
	Publish(roomKey string, event *Event)
}

// Tracker translates domain events raised by the business layer (message
// persisted, trade status changed, notification created) into broadcasts.
// It has no state of its own: callers invoke it only after their own
// persistence has succeeded.
type Tracker struct {
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewTracker(broadcaster Broadcaster, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// MessageCreated pushes a persisted trade message to the trade conversation
// room. Used by the REST send path; websocket sends go through the
// Dispatcher directly.
func (t *Tracker) MessageCreated(tradeID, senderID string, payload map[string]any) {
	event := NewMessageEvent(uuid.New().String(), TradeRoom(tradeID), senderID, payload)
	t.broadcaster.Publish(TradeRoom(tradeID), event)
	t.logger.Debug("Pushed message event", "tradeID", tradeID, "senderID", senderID)
}

// TradeStatusChanged notifies every participant's personal room about a
// trade state transition (funded, released, disputed, cancelled, ...).
func (t *Tracker) TradeStatusChanged(tradeID, status string, participantIDs []string) {
	for _, userID := range participantIDs {
		event := NewNotificationEvent(uuid.New().String(), userID, map[string]any{
			"kind":     "trade_status",
			"trade_id": tradeID,
			"status":   status,
		})
		t.broadcaster.Publish(UserRoom(userID), event)
	}
	t.logger.Debug("Pushed trade status", "tradeID", tradeID, "status", status, "participants", len(participantIDs))
}

// NotificationCreated pushes a freshly persisted notification to its
// recipient's personal room.
func (t *Tracker) NotificationCreated(userID string, data map[string]any) {
	event := NewNotificationEvent(uuid.New().String(), userID, data)
	t.broadcaster.Publish(UserRoom(userID), event)
}

// CountsChanged pushes the recomputed per-user aggregates to the personal
// room so badges and unread indicators update without polling.
func (t *Tracker) CountsChanged(userID string, counts Counts) {
	event := NewCountsEvent(uuid.New().String(), userID, counts)
	t.broadcaster.Publish(UserRoom(userID), event)
}
