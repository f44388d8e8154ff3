package services

import (
	"context"
	"fmt"

	"exchange-service/internal/realtime"
	"exchange-service/internal/repositories/mongo"
	"exchange-service/internal/repositories/postgres"
	"log/slog"
)

// CountsService aggregates the per-user badge numbers (active trades,
// unread messages, unread notifications) from their backing stores.
type CountsService struct {
	trades        *postgres.TradeRepository
	messages      *mongo.MessageRepository
	notifications *postgres.NotificationRepository
	tracker       *realtime.Tracker
}

func NewCountsService(
	trades *postgres.TradeRepository,
	messages *mongo.MessageRepository,
	notifications *postgres.NotificationRepository,
	tracker *realtime.Tracker,
) *CountsService {
	return &CountsService{
		trades:        trades,
		messages:      messages,
		notifications: notifications,
		tracker:       tracker,
	}
}

// Get recomputes the aggregates for one user.
func (s *CountsService) Get(ctx context.Context, userID string) (realtime.Counts, error) {
	var counts realtime.Counts

	activeTrades, err := s.trades.CountActive(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("failed to count active trades: %w", err)
	}

	tradeIDs, err := s.trades.TradeIDsOf(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("failed to list user trades: %w", err)
	}

	unreadMessages, err := s.messages.CountUnread(ctx, userID, tradeIDs)
	if err != nil {
		return counts, fmt.Errorf("failed to count unread messages: %w", err)
	}

	unreadNotifications, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	counts.ActiveTrades = activeTrades
	counts.UnreadMessages = unreadMessages
	counts.UnreadNotifications = unreadNotifications
	return counts, nil
}

// Push recomputes the aggregates and publishes them to the user's personal
// room. Failures are logged rather than returned: a missed badge update is
// not worth failing the triggering request over.
func (s *CountsService) Push(ctx context.Context, userID string) {
	counts, err := s.Get(ctx, userID)
	if err != nil {
		slog.Warn("Failed to recompute counts", "userID", userID, "error", err)
		return
	}
	s.tracker.CountsChanged(userID, counts)
}
