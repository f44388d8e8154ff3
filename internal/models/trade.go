package models

import (
	"time"

	"gorm.io/gorm"
)

// TradeStatus tracks the escrow-style lifecycle of a trade.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "open"
	TradeStatusJoined    TradeStatus = "joined"
	TradeStatusFunded    TradeStatus = "funded"
	TradeStatusPaid      TradeStatus = "paid"
	TradeStatusReleased  TradeStatus = "released"
	TradeStatusDisputed  TradeStatus = "disputed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// ActiveStatuses are the states counted as a user's active trades.
func ActiveStatuses() []TradeStatus {
	return []TradeStatus{TradeStatusOpen, TradeStatusJoined, TradeStatusFunded, TradeStatusPaid, TradeStatusDisputed}
}

type Trade struct {
	ID        string      `gorm:"primaryKey;type:uuid" json:"id"`
	SellerID  string      `gorm:"type:uuid;index;not null" json:"seller_id"`
	BuyerID   *string     `gorm:"type:uuid;index" json:"buyer_id,omitempty"`
	Currency  string      `gorm:"not null" json:"currency"`
	Amount    float64     `gorm:"not null" json:"amount"`
	Rate      float64     `gorm:"not null" json:"rate"`
	Status    TradeStatus `gorm:"index;not null;default:open" json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	Seller *User `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
	Buyer  *User `gorm:"foreignKey:BuyerID" json:"buyer,omitempty"`
}

// Participants returns the user ids allowed into the trade conversation.
func (t *Trade) Participants() []string {
	ids := []string{t.SellerID}
	if t.BuyerID != nil && *t.BuyerID != "" {
		ids = append(ids, *t.BuyerID)
	}
	return ids
}

type Notification struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string         `gorm:"type:uuid;index;not null" json:"user_id"`
	Kind      string         `gorm:"not null" json:"kind"`
	TradeID   *string        `gorm:"type:uuid" json:"trade_id,omitempty"`
	Body      string         `json:"body"`
	Read      bool           `gorm:"index;default:false" json:"read"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
