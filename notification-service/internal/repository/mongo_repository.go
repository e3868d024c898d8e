package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("notifications"),
	}
}

func (m *MongoRepository) Create(ctx context.Context, n *domain.Notification) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	res, err := m.collection.InsertOne(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		n.ID = oid.Hex()
	}
	return nil
}

// Update persists the outcome of a delivery attempt.
func (m *MongoRepository) Update(ctx context.Context, n *domain.Notification) error {
	oid, err := primitive.ObjectIDFromHex(n.ID)
	if err != nil {
		return ErrNotificationNotFound
	}

	set := bson.M{
		"status":         n.Status,
		"failure_reason": n.FailureReason,
		"updated_at":     n.UpdatedAt,
	}
	if n.SentAt != nil {
		set["sent_at"] = n.SentAt
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (m *MongoRepository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotificationNotFound
	}

	var n domain.Notification
	err = m.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&n)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (m *MongoRepository) ListByUserID(ctx context.Context, userID int64) ([]*domain.Notification, error) {
	return m.find(ctx, bson.M{"user_id": userID})
}

func (m *MongoRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Notification, error) {
	return m.find(ctx, bson.M{"status": status})
}

func (m *MongoRepository) find(ctx context.Context, filter bson.M) ([]*domain.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*domain.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return out, nil
}

func (m *MongoRepository) CountByUserAndStatus(ctx context.Context, userID int64, status domain.Status) (int64, error) {
	n, err := m.collection.CountDocuments(ctx, bson.M{"user_id": userID, "status": status})
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetSparse(true)},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
