package kafka

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"exchange-service/internal/realtime"
	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	room  string
	event *realtime.Event
}

func (c *captureBroadcaster) Publish(roomKey string, event *realtime.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{room: roomKey, event: event})
}

func (c *captureBroadcaster) captured() []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedEvent(nil), c.events...)
}

func newTestConsumer(t *testing.T) (*EventConsumer, *captureBroadcaster) {
	t.Helper()
	broadcaster := &captureBroadcaster{}
	tracker := realtime.NewTracker(broadcaster, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &EventConsumer{tracker: tracker, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, broadcaster
}

func encode(t *testing.T, event DomainEvent) []byte {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return value
}

func TestConsumerMessageCreated(t *testing.T) {
	consumer, broadcaster := newTestConsumer(t)

	consumer.handle(encode(t, DomainEvent{
		Type:    EventMessageCreated,
		UserID:  "u1",
		TradeID: "t1",
		Payload: map[string]any{"text": "hello"},
	}))

	captured := broadcaster.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, "trade:t1", captured[0].room)
	assert.Equal(t, realtime.EventMessageNew, captured[0].event.Type)
	assert.Equal(t, "hello", captured[0].event.Data["text"])
}

func TestConsumerTradeStatusChangedFansOutToParticipants(t *testing.T) {
	consumer, broadcaster := newTestConsumer(t)

	consumer.handle(encode(t, DomainEvent{
		Type:    EventTradeStatusChanged,
		TradeID: "t1",
		Payload: map[string]any{
			"status":       "funded",
			"participants": []string{"u1", "u2"},
		},
	}))

	captured := broadcaster.captured()
	require.Len(t, captured, 2)
	rooms := []string{captured[0].room, captured[1].room}
	assert.ElementsMatch(t, []string{"user:u1", "user:u2"}, rooms)
}

func TestConsumerNotificationCreated(t *testing.T) {
	consumer, broadcaster := newTestConsumer(t)

	consumer.handle(encode(t, DomainEvent{
		Type:    EventNotificationCreated,
		UserID:  "u1",
		Payload: map[string]any{"kind": "trade_joined"},
	}))

	captured := broadcaster.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, "user:u1", captured[0].room)
	assert.Equal(t, realtime.EventNotificationNew, captured[0].event.Type)
}

func TestConsumerDropsMalformedAndIncomplete(t *testing.T) {
	consumer, broadcaster := newTestConsumer(t)

	consumer.handle([]byte("{not json"))
	consumer.handle(encode(t, DomainEvent{Type: EventMessageCreated}))
	consumer.handle(encode(t, DomainEvent{Type: EventTradeStatusChanged, TradeID: "t1"}))
	consumer.handle(encode(t, DomainEvent{Type: "payments.settled", UserID: "u1"}))

	assert.Empty(t, broadcaster.captured())
}
