package repositories

import (
	"context"
	"time"

	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserRepository struct {
	collection *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		collection: db.Collection(config.CollectionUsers),
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var user models.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByIDs returns the users keyed by id; unknown ids are absent from the map.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	result := make(map[primitive.ObjectID]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// IncrementBalances applies both deltas in a single $inc and returns the
// updated user. When minBalance is set the update only matches while
// commissionBalance >= *minBalance; a miss yields ErrNotFound.
func (r *UserRepository) IncrementBalances(ctx context.Context, id primitive.ObjectID, balanceDelta, holdDelta float64, minBalance *float64, now time.Time) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": id}
	if minBalance != nil {
		filter["commissionBalance"] = bson.M{"$gte": *minBalance}
	}
	update := bson.M{
		"$inc": bson.M{
			"commissionBalance": balanceDelta,
			"commissionOnHold":  holdDelta,
		},
		"$set": bson.M{"updatedAt": now},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// SetBalance overwrites commissionBalance with target while it still equals
// expected and returns the updated user; a changed balance yields ErrNotFound.
func (r *UserRepository) SetBalance(ctx context.Context, id primitive.ObjectID, expected, target float64, now time.Time) (*models.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": id, "commissionBalance": expected}
	update := bson.M{"$set": bson.M{
		"commissionBalance": target,
		"updatedAt":         now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *UserRepository) SetPrioritySupplierID(ctx context.Context, id primitive.ObjectID, supplierID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"prioritySupplierId": supplierID,
			"updatedAt":          time.Now(),
		},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
