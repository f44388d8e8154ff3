package services

import (
	"context"
	"errors"
	"fmt"

	"exchange-service/internal/adapters/kafka"
	"exchange-service/internal/models"
	"exchange-service/internal/repositories/postgres"
	"log/slog"

	"github.com/google/uuid"
)

var (
	ErrNotParticipant    = errors.New("user is not a participant of this trade")
	ErrTradeNotJoinable  = errors.New("trade cannot be joined")
	ErrInvalidTransition = errors.New("invalid trade status transition")
)

// legalTransitions maps each status to the states it may move into.
var legalTransitions = map[models.TradeStatus][]models.TradeStatus{
	models.TradeStatusOpen:     {models.TradeStatusJoined, models.TradeStatusCancelled},
	models.TradeStatusJoined:   {models.TradeStatusFunded, models.TradeStatusCancelled, models.TradeStatusDisputed},
	models.TradeStatusFunded:   {models.TradeStatusPaid, models.TradeStatusDisputed, models.TradeStatusCancelled},
	models.TradeStatusPaid:     {models.TradeStatusReleased, models.TradeStatusDisputed},
	models.TradeStatusDisputed: {models.TradeStatusReleased, models.TradeStatusCancelled},
}

type CreateTradeRequest struct {
	Currency string  `json:"currency" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Rate     float64 `json:"rate" binding:"required,gt=0"`
}

type TradeService struct {
	trades        *postgres.TradeRepository
	notifications *postgres.NotificationRepository
	producer      *kafka.EventProducer
}

func NewTradeService(
	trades *postgres.TradeRepository,
	notifications *postgres.NotificationRepository,
	producer *kafka.EventProducer,
) *TradeService {
	return &TradeService{
		trades:        trades,
		notifications: notifications,
		producer:      producer,
	}
}

func (s *TradeService) Create(ctx context.Context, sellerID string, req *CreateTradeRequest) (*models.Trade, error) {
	trade := &models.Trade{
		ID:       uuid.NewString(),
		SellerID: sellerID,
		Currency: req.Currency,
		Amount:   req.Amount,
		Rate:     req.Rate,
		Status:   models.TradeStatusOpen,
	}
	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	slog.Info("Trade created", "tradeID", trade.ID, "sellerID", sellerID)
	return trade, nil
}

func (s *TradeService) Get(ctx context.Context, tradeID string) (*models.Trade, error) {
	return s.trades.GetByID(ctx, tradeID)
}

func (s *TradeService) ListOpen(ctx context.Context, limit, offset int) ([]models.Trade, error) {
	return s.trades.ListOpen(ctx, limit, offset)
}

func (s *TradeService) ListMine(ctx context.Context, userID string) ([]models.Trade, error) {
	return s.trades.ListByUser(ctx, userID)
}

// Join claims an open trade for the buyer. The repository guards against two
// buyers claiming the same trade concurrently.
func (s *TradeService) Join(ctx context.Context, tradeID, buyerID string) (*models.Trade, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != models.TradeStatusOpen || trade.SellerID == buyerID {
		return nil, ErrTradeNotJoinable
	}

	if err := s.trades.SetBuyer(ctx, tradeID, buyerID); err != nil {
		return nil, err
	}
	if err := s.trades.UpdateStatus(ctx, tradeID, models.TradeStatusJoined); err != nil {
		return nil, err
	}

	trade.BuyerID = &buyerID
	trade.Status = models.TradeStatusJoined

	s.notifyParticipant(ctx, trade.SellerID, "trade_joined", tradeID, "A buyer joined your trade")
	s.emitStatusChanged(trade)
	return trade, nil
}

// UpdateStatus moves the trade along its lifecycle. Only participants may
// change status, and only along legal transitions.
func (s *TradeService) UpdateStatus(ctx context.Context, tradeID, userID string, status models.TradeStatus) (*models.Trade, error) {
	trade, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !contains(trade.Participants(), userID) {
		return nil, ErrNotParticipant
	}
	if !contains(legalTransitions[trade.Status], status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, trade.Status, status)
	}

	if err := s.trades.UpdateStatus(ctx, tradeID, status); err != nil {
		return nil, err
	}
	trade.Status = status

	for _, participantID := range trade.Participants() {
		if participantID == userID {
			continue
		}
		s.notifyParticipant(ctx, participantID, "trade_status", tradeID,
			fmt.Sprintf("Trade moved to %s", status))
	}
	s.emitStatusChanged(trade)
	return trade, nil
}

func (s *TradeService) notifyParticipant(ctx context.Context, userID, kind, tradeID, body string) {
	notification := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Kind:    kind,
		TradeID: &tradeID,
		Body:    body,
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		slog.Warn("Failed to persist notification", "userID", userID, "error", err)
		return
	}

	if err := s.producer.Emit(kafka.DomainEvent{
		Type:    kafka.EventNotificationCreated,
		UserID:  userID,
		TradeID: tradeID,
		Payload: map[string]any{
			"id":       notification.ID,
			"kind":     kind,
			"trade_id": tradeID,
			"body":     body,
		},
	}); err != nil {
		slog.Warn("Failed to emit notification event", "userID", userID, "error", err)
	}
}

func (s *TradeService) emitStatusChanged(trade *models.Trade) {
	participants := trade.Participants()
	payload := map[string]any{
		"status":       string(trade.Status),
		"participants": participants,
	}
	if err := s.producer.Emit(kafka.DomainEvent{
		Type:    kafka.EventTradeStatusChanged,
		TradeID: trade.ID,
		Payload: payload,
	}); err != nil {
		slog.Warn("Failed to emit trade status event", "tradeID", trade.ID, "error", err)
	}
}

func contains[T comparable](items []T, target T) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
