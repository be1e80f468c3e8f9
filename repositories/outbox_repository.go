package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OutboxRepository struct {
	collection *mongo.Collection
}

func NewOutboxRepository(db *mongo.Database) *OutboxRepository {
	return &OutboxRepository{
		collection: db.Collection(config.CollectionNotificationOutbox),
	}
}

// Enqueue stores event for delivery. The insert joins the caller's
// transaction when ctx carries a session.
func (r *OutboxRepository) Enqueue(ctx context.Context, event models.NotificationEvent) (*models.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now()
	record := &models.OutboxEvent{
		ID:            primitive.NewObjectID(),
		EventID:       uuid.NewString(),
		Event:         event,
		Status:        models.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ClaimDue locks the oldest due event for lockFor and bumps its attempt
// counter. Events whose lock expired are picked up again. Returns ErrNotFound
// when nothing is due.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lockFor time.Duration) (*models.OutboxEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"$or": bson.A{
			bson.M{"status": models.OutboxPending, "nextAttemptAt": bson.M{"$lte": now}},
			bson.M{"status": models.OutboxProcessing, "lockedUntil": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      models.OutboxProcessing,
			"lockedUntil": now.Add(lockFor),
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "nextAttemptAt", Value: 1}}).
		SetReturnDocument(options.After)

	var event models.OutboxEvent
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&event); err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"status": models.OutboxSent, "sentAt": now, "lastError": ""},
		"$unset": bson.M{"lockedUntil": ""},
	})
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id primitive.ObjectID, next time.Time, lastErr string) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"status": models.OutboxPending, "nextAttemptAt": next, "lastError": lastErr},
		"$unset": bson.M{"lockedUntil": ""},
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id primitive.ObjectID, lastErr string) error {
	return r.update(ctx, id, bson.M{
		"$set":   bson.M{"status": models.OutboxFailed, "lastError": lastErr},
		"$unset": bson.M{"lockedUntil": ""},
	})
}

func (r *OutboxRepository) update(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
