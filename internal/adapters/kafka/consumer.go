package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"exchange-service/internal/realtime"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// EventConsumer reads domain events back off the events topic and turns them
// into realtime broadcasts. Other services (payments, arbitration) publish to
// the same topic, so pushes reach clients even when the change did not
// originate here.
type EventConsumer struct {
	reader  *kafka.Reader
	tracker *realtime.Tracker
	logger  *slog.Logger
}

func NewEventConsumer(brokers []string, topic, groupID string, tracker *realtime.Tracker, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	return &EventConsumer{reader: reader, tracker: tracker, logger: logger}
}

// Run blocks consuming events until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("Failed to read domain event", "error", err)
			return err
		}
		c.handle(msg.Value)
	}
}

func (c *EventConsumer) handle(value []byte) {
	var event DomainEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn("Dropping malformed domain event", "error", err)
		return
	}

	switch event.Type {
	case EventTradeStatusChanged:
		status, _ := event.Payload["status"].(string)
		participants := stringSlice(event.Payload["participants"])
		if event.TradeID == "" || status == "" {
			c.logger.Warn("Dropping incomplete trade status event", "tradeID", event.TradeID)
			return
		}
		c.tracker.TradeStatusChanged(event.TradeID, status, participants)
	case EventMessageCreated:
		if event.TradeID == "" || event.UserID == "" {
			c.logger.Warn("Dropping incomplete message event", "tradeID", event.TradeID)
			return
		}
		c.tracker.MessageCreated(event.TradeID, event.UserID, event.Payload)
	case EventNotificationCreated:
		if event.UserID == "" {
			c.logger.Warn("Dropping incomplete notification event")
			return
		}
		c.tracker.NotificationCreated(event.UserID, event.Payload)
	default:
		c.logger.Debug("Ignoring domain event", "type", event.Type)
	}
}

func (c *EventConsumer) Close() error {
	return c.reader.Close()
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
