package repositories

import (
	"context"

	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type LedgerRepository struct {
	collection *mongo.Collection
}

func NewLedgerRepository(db *mongo.Database) *LedgerRepository {
	return &LedgerRepository{
		collection: db.Collection(config.CollectionLedgerEntries),
	}
}

func (r *LedgerRepository) Insert(ctx context.Context, entry *models.LedgerEntry) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, entry)
	return err
}

// ListByUser returns the most recent entries for a user.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.LedgerEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit)
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entries := []models.LedgerEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
