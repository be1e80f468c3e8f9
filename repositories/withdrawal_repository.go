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

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type WithdrawalRepository struct {
	collection *mongo.Collection
}

func NewWithdrawalRepository(db *mongo.Database) *WithdrawalRepository {
	return &WithdrawalRepository{
		collection: db.Collection(config.CollectionWithdrawals),
	}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *models.WithdrawalRequest) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if w.ID.IsZero() {
		w.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, w)
	return translate(err)
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var w models.WithdrawalRequest
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&w); err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// FindOpenByUser returns the user's pending or approved request, ErrNotFound
// when there is none.
func (r *WithdrawalRepository) FindOpenByUser(ctx context.Context, userID primitive.ObjectID) (*models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"userId": userID,
		"status": bson.M{"$in": []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved}},
	}
	var w models.WithdrawalRequest
	if err := r.collection.FindOne(ctx, filter).Decode(&w); err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	requests := []models.WithdrawalRequest{}
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionStatus moves the request to `to` only while its status is one of
// `from`. A request that is missing or already moved yields ErrNotFound.
func (r *WithdrawalRepository) TransitionStatus(ctx context.Context, id primitive.ObjectID, from []models.WithdrawalStatus, to models.WithdrawalStatus, upd models.TransitionUpdate) (*models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": from},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      to,
			"adminNotes":  upd.AdminNotes,
			"processedBy": upd.ProcessedBy,
			"processedAt": upd.ProcessedAt,
			"updatedAt":   upd.ProcessedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var w models.WithdrawalRequest
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&w); err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// DeleteInStatus removes the request only while it still has status and
// returns the removed document.
func (r *WithdrawalRepository) DeleteInStatus(ctx context.Context, id primitive.ObjectID, status models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var w models.WithdrawalRequest
	err := r.collection.FindOneAndDelete(ctx, bson.M{"_id": id, "status": status}).Decode(&w)
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *WithdrawalRepository) SetPriorityPayment(ctx context.Context, id primitive.ObjectID, paymentDocID string) error {
	return r.set(ctx, id, bson.M{
		"priorityPaymentDocId": paymentDocID,
		"updatedAt":            time.Now(),
	})
}

// ReservePayout marks an approved request as being paid out and returns it.
// It matches only while no payment document is recorded and no reservation
// newer than staleBefore exists; a miss yields ErrNotFound.
func (r *WithdrawalRepository) ReservePayout(ctx context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.WithdrawalRequest, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"_id":                  id,
		"status":               models.WithdrawalApproved,
		"priorityPaymentDocId": bson.M{"$in": bson.A{nil, ""}},
		"$or": bson.A{
			bson.M{"payoutLockedAt": bson.M{"$exists": false}},
			bson.M{"payoutLockedAt": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{"$set": bson.M{"payoutLockedAt": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var w models.WithdrawalRequest
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&w); err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

// ReleasePayout drops the reservation of a payout that failed.
func (r *WithdrawalRepository) ReleasePayout(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{"payoutLockedAt": ""}})
	return err
}

func (r *WithdrawalRepository) SetClaims(ctx context.Context, id primitive.ObjectID, orderIDs []primitive.ObjectID, total float64) error {
	if orderIDs == nil {
		orderIDs = []primitive.ObjectID{}
	}
	return r.set(ctx, id, bson.M{
		"claimedOrderIds": orderIDs,
		"claimedTotal":    total,
	})
}

func (r *WithdrawalRepository) set(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of requests, newest first, and the total match count.
func (r *WithdrawalRepository) List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	page, limit := NormalizePage(filter.Page, filter.Limit)
	query := tenantQuery(filter.TenantID)
	if filter.Status.IsValid() {
		query["status"] = filter.Status
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	items := []models.WithdrawalRequest{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, err
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type statsRow struct {
	Count  int64   `bson:"count"`
	Amount float64 `bson:"amount"`
}

// Stats reports open pending work and what was paid out since monthStart.
func (r *WithdrawalRepository) Stats(ctx context.Context, tenantID *primitive.ObjectID, monthStart time.Time) (*models.WithdrawalStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	pendingMatch := tenantQuery(tenantID)
	pendingMatch["status"] = models.WithdrawalPending
	pending, err := r.sumByMatch(ctx, pendingMatch)
	if err != nil {
		return nil, err
	}

	completedMatch := tenantQuery(tenantID)
	completedMatch["status"] = models.WithdrawalCompleted
	completedMatch["processedAt"] = bson.M{"$gte": monthStart}
	completed, err := r.sumByMatch(ctx, completedMatch)
	if err != nil {
		return nil, err
	}

	return &models.WithdrawalStats{
		PendingCount:            pending.Count,
		PendingAmount:           pending.Amount,
		CompletedThisMonth:      completed.Amount,
		CompletedCountThisMonth: completed.Count,
	}, nil
}

func (r *WithdrawalRepository) sumByMatch(ctx context.Context, match bson.M) (statsRow, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"count":  bson.M{"$sum": 1},
			"amount": bson.M{"$sum": "$amount"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return statsRow{}, err
	}
	defer cursor.Close(ctx)

	var row statsRow
	if cursor.Next(ctx) {
		if err := cursor.Decode(&row); err != nil {
			return statsRow{}, err
		}
	}
	return row, cursor.Err()
}

func tenantQuery(tenantID *primitive.ObjectID) bson.M {
	query := bson.M{}
	if tenantID != nil {
		query["tenantId"] = *tenantID
	}
	return query
}

// NormalizePage applies the default page and limit and caps the limit.
func NormalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
