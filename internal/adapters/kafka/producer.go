package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/IBM/sarama"
)

// Domain event types carried on the events topic.
const (
	EventTradeStatusChanged  = "trade.status.changed"
	EventMessageCreated      = "message.created"
	EventNotificationCreated = "notification.created"
)

// DomainEvent is the wire envelope for cross-service events. Payload fields
// depend on Type.
type DomainEvent struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	TradeID   string         `json:"trade_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func InitKafkaProducer(brokers []string, topic string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "exchange-service"
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return producer, nil
}

// EventProducer publishes domain events, keyed by trade id so per-trade
// ordering is preserved across partitions.
type EventProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewEventProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *EventProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventProducer{producer: producer, topic: topic, logger: logger}
}

func (p *EventProducer) Emit(event DomainEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode domain event: %w", err)
	}

	key := event.TradeID
	if key == "" {
		key = event.UserID
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		p.logger.Error("Failed to emit domain event", "type", event.Type, "error", err)
		return fmt.Errorf("failed to emit domain event: %w", err)
	}

	p.logger.Debug("Emitted domain event", "type", event.Type, "partition", partition, "offset", offset)
	return nil
}

func (p *EventProducer) Close() error {
	return p.producer.Close()
}
