package services

import (
	"context"
	"fmt"
	"mime/multipart"

	"exchange-service/internal/adapters/kafka"
	"exchange-service/internal/adapters/storage"
	"exchange-service/internal/models"
	mongorepo "exchange-service/internal/repositories/mongo"
	"exchange-service/internal/repositories/postgres"
	"log/slog"
)

type SendMessageRequest struct {
	Text       string `json:"text" binding:"required,max=2000"`
	ReceiptURL string `json:"receipt_url,omitempty"`
}

// MessageService handles the REST conversation surface: history reads,
// receipt uploads and sends from clients without a live websocket.
type MessageService struct {
	messages *mongorepo.MessageRepository
	trades   *postgres.TradeRepository
	storage  *storage.MinIOClient
	producer *kafka.EventProducer
	counts   *CountsService
}

func NewMessageService(
	messages *mongorepo.MessageRepository,
	trades *postgres.TradeRepository,
	storage *storage.MinIOClient,
	producer *kafka.EventProducer,
	counts *CountsService,
) *MessageService {
	return &MessageService{
		messages: messages,
		trades:   trades,
		storage:  storage,
		producer: producer,
		counts:   counts,
	}
}

// participants returns the trade's member ids, or ErrNotParticipant when
// userID is not among them.
func (s *MessageService) participants(ctx context.Context, tradeID, userID string) ([]string, error) {
	ids, err := s.trades.Participants(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !contains(ids, userID) {
		return nil, ErrNotParticipant
	}
	return ids, nil
}

func (s *MessageService) History(ctx context.Context, tradeID, userID string, limit, offset int64) ([]models.TradeMessage, error) {
	if _, err := s.participants(ctx, tradeID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListByTrade(ctx, tradeID, limit, offset)
}

// Send persists a message and emits it as a domain event. The realtime push
// happens on the consuming side so exactly one instance broadcasts it.
func (s *MessageService) Send(ctx context.Context, tradeID, senderID string, req *SendMessageRequest) (*models.TradeMessage, error) {
	participantIDs, err := s.participants(ctx, tradeID, senderID)
	if err != nil {
		return nil, err
	}

	message := &models.TradeMessage{
		TradeID:    tradeID,
		SenderID:   senderID,
		Text:       req.Text,
		ReceiptURL: req.ReceiptURL,
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if err := s.producer.Emit(kafka.DomainEvent{
		Type:    kafka.EventMessageCreated,
		UserID:  senderID,
		TradeID: tradeID,
		Payload: map[string]any{
			"message_id":  message.ID.Hex(),
			"text":        message.Text,
			"receipt_url": message.ReceiptURL,
			"created_at":  message.CreatedAt.UnixMilli(),
		},
	}); err != nil {
		slog.Warn("Failed to emit message event", "tradeID", tradeID, "error", err)
	}

	for _, participantID := range participantIDs {
		if participantID == senderID {
			continue
		}
		s.counts.Push(ctx, participantID)
	}
	return message, nil
}

// UploadReceipt stores a payment proof image and returns its URL for use in
// a subsequent Send.
func (s *MessageService) UploadReceipt(ctx context.Context, tradeID, userID string, file *multipart.FileHeader) (string, error) {
	if _, err := s.participants(ctx, tradeID, userID); err != nil {
		return "", err
	}
	return s.storage.UploadReceipt(ctx, tradeID, file)
}

// MarkRead flags the whole conversation read for userID and refreshes their
// badge counts.
func (s *MessageService) MarkRead(ctx context.Context, tradeID, userID string) error {
	if _, err := s.participants(ctx, tradeID, userID); err != nil {
		return err
	}
	if err := s.messages.MarkRead(ctx, userID, tradeID); err != nil {
		return err
	}
	s.counts.Push(ctx, userID)
	return nil
}
