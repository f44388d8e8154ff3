package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TradeMessage is a chat message inside a trade conversation. Conversation
// history lives in MongoDB; the relational models above never reference it.
type TradeMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TradeID    string             `bson:"trade_id" json:"trade_id"`
	SenderID   string             `bson:"sender_id" json:"sender_id"`
	Text       string             `bson:"text,omitempty" json:"text,omitempty"`
	ReceiptURL string             `bson:"receipt_url,omitempty" json:"receipt_url,omitempty"`
	ReadBy     []string           `bson:"read_by,omitempty" json:"read_by,omitempty"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
}
