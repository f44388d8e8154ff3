package realtime

import (
	"testing"
)

type captureBroadcaster struct {
	rooms  []string
	events []*Event
}

func (c *captureBroadcaster) Publish(roomKey string, event *Event) {
	c.rooms = append(c.rooms, roomKey)
	c.events = append(c.events, event)
}

func TestTrackerMessageCreated(t *testing.T) {
	capture := &captureBroadcaster{}
	tracker := NewTracker(capture, discardLogger())

	tracker.MessageCreated("t1", "u1", map[string]any{"text": "paid, please release"})

	if len(capture.events) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(capture.events))
	}
	if capture.rooms[0] != "trade:t1" {
		t.Errorf("Wrong room: %s", capture.rooms[0])
	}
	event := capture.events[0]
	if event.Type != EventMessageNew || event.UserID != "u1" {
		t.Errorf("Wrong event shape: type=%s user=%s", event.Type, event.UserID)
	}
	if event.Timestamp == 0 {
		t.Error("Missing server timestamp")
	}
}

func TestTrackerTradeStatusChanged(t *testing.T) {
	capture := &captureBroadcaster{}
	tracker := NewTracker(capture, discardLogger())

	tracker.TradeStatusChanged("t1", "disputed", []string{"buyer", "seller"})

	if len(capture.events) != 2 {
		t.Fatalf("Expected one publish per participant, got %d", len(capture.events))
	}
	if capture.rooms[0] != UserRoom("buyer") || capture.rooms[1] != UserRoom("seller") {
		t.Errorf("Wrong target rooms: %v", capture.rooms)
	}
	for _, event := range capture.events {
		if event.Type != EventNotificationNew {
			t.Errorf("Expected notification.new, got %s", event.Type)
		}
		if event.Data["status"] != "disputed" {
			t.Errorf("Wrong status payload: %v", event.Data)
		}
	}
}

func TestTrackerCountsChanged(t *testing.T) {
	capture := &captureBroadcaster{}
	tracker := NewTracker(capture, discardLogger())

	tracker.CountsChanged("u1", Counts{ActiveTrades: 2, UnreadMessages: 5, UnreadNotifications: 1})

	if len(capture.events) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(capture.events))
	}
	event := capture.events[0]
	if capture.rooms[0] != UserRoom("u1") || event.Type != EventCountsUpdate {
		t.Errorf("Counts pushed to wrong place: room=%s type=%s", capture.rooms[0], event.Type)
	}
	if event.Data["unread_messages"] != int64(5) {
		t.Errorf("Wrong counts payload: %v", event.Data)
	}
}
