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

type OrderRepository struct {
	collection *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		collection: db.Collection(config.CollectionOrders),
	}
}

func claimableFilter(agentID primitive.ObjectID) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"agentId": agentID},
			bson.M{"refAgentId": agentID},
		},
		"commissionAmount": bson.M{"$gt": 0},
		"commissionStatus": bson.M{"$in": models.ClaimableCommissionStatuses},
		"status":           bson.M{"$in": models.ClaimableOrderStatuses},
	}
}

// FindClaimable returns the agent's unclaimed commission orders, oldest first.
func (r *OrderRepository) FindClaimable(ctx context.Context, agentID primitive.ObjectID) ([]models.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{
			"agentId":          1,
			"refAgentId":       1,
			"tenantId":         1,
			"status":           1,
			"commissionAmount": 1,
			"commissionStatus": 1,
			"createdAt":        1,
		})

	cursor, err := r.collection.Find(ctx, claimableFilter(agentID), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkClaimed flags the orders as consumed by withdrawalID. Orders already
// claimed are left untouched.
func (r *OrderRepository) MarkClaimed(ctx context.Context, orderIDs []primitive.ObjectID, withdrawalID primitive.ObjectID, now time.Time) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id":              bson.M{"$in": orderIDs},
		"commissionStatus": bson.M{"$ne": models.CommissionClaimed},
	}
	update := bson.M{
		"$set": bson.M{
			"commissionStatus":    models.CommissionClaimed,
			"claimedAt":           now,
			"claimedByWithdrawal": withdrawalID,
		},
	}

	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
