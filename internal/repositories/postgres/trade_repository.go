package postgres

import (
	"context"
	"errors"
	"fmt"

	"exchange-service/internal/models"

	"gorm.io/gorm"
)

var ErrTradeNotFound = errors.New("trade not found")

type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *TradeRepository) GetByID(ctx context.Context, id string) (*models.Trade, error) {
	var trade models.Trade
	err := r.db.WithContext(ctx).First(&trade, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade: %w", err)
	}
	return &trade, nil
}

func (r *TradeRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("status = ?", models.TradeStatusOpen).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&trades).Error
	return trades, err
}

func (r *TradeRepository) ListByUser(ctx context.Context, userID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("seller_id = ? OR buyer_id = ?", userID, userID).
		Order("updated_at DESC").
		Find(&trades).Error
	return trades, err
}

func (r *TradeRepository) UpdateStatus(ctx context.Context, id string, status models.TradeStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (r *TradeRepository) SetBuyer(ctx context.Context, id, buyerID string) error {
	result := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND buyer_id IS NULL", id).
		Updates(map[string]any{"buyer_id": buyerID, "status": models.TradeStatusJoined})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// Participants implements the realtime dispatcher's trade lookup: the user
// ids authorized for the trade conversation room.
func (r *TradeRepository) Participants(ctx context.Context, tradeID string) ([]string, error) {
	trade, err := r.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return trade.Participants(), nil
}

// CountActive returns how many trades the user currently has in a
// non-terminal state.
func (r *TradeRepository) CountActive(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("(seller_id = ? OR buyer_id = ?) AND status IN ?", userID, userID, models.ActiveStatuses()).
		Count(&count).Error
	return count, err
}

// TradeIDsOf returns the ids of every trade the user participates in.
func (r *TradeRepository) TradeIDsOf(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("seller_id = ? OR buyer_id = ?", userID, userID).
		Pluck("id", &ids).Error
	return ids, err
}
