package mongo

import (
	"context"
	"fmt"
	"time"

	"exchange-service/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "trade_messages"

// MessageRepository stores trade conversation history in MongoDB.
type MessageRepository struct {
	collection *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{collection: db.Collection(messagesCollection)}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.TradeMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	// sender has implicitly read their own message
	message.ReadBy = append(message.ReadBy, message.SenderID)

	result, err := r.collection.InsertOne(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		message.ID = oid
	}
	return nil
}

func (r *MessageRepository) ListByTrade(ctx context.Context, tradeID string, limit, offset int64) ([]models.TradeMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{"trade_id": tradeID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []models.TradeMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// CountUnread counts messages in the given trades the user has not read.
func (r *MessageRepository) CountUnread(ctx context.Context, userID string, tradeIDs []string) (int64, error) {
	if len(tradeIDs) == 0 {
		return 0, nil
	}
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"trade_id": bson.M{"$in": tradeIDs},
		"read_by":  bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// MarkRead records that the user has read every message of a trade.
func (r *MessageRepository) MarkRead(ctx context.Context, userID, tradeID string) error {
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"trade_id": tradeID, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}
