package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const withdrawalsNS = "vipo.withdrawalRequests"

func TestWithdrawalRepository_TransitionStatus(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	id := primitive.NewObjectID()
	adminID := primitive.NewObjectID()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("applies when status matches", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "amount", Value: 150.0},
			{Key: "status", Value: "approved"},
			{Key: "processedBy", Value: adminID},
		}}))

		w, err := repo.TransitionStatus(context.Background(), id,
			[]models.WithdrawalStatus{models.WithdrawalPending}, models.WithdrawalApproved,
			models.TransitionUpdate{AdminNotes: "ok", ProcessedBy: adminID, ProcessedAt: now})
		require.NoError(mt, err)
		assert.Equal(mt, models.WithdrawalApproved, w.Status)
		require.NotNil(mt, w.ProcessedBy)
		assert.Equal(mt, adminID, *w.ProcessedBy)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		query := started.Command.Lookup("query").Document()
		assert.Equal(mt, id, query.Lookup("_id").ObjectID())
		statusIn := query.Lookup("status", "$in").Array()
		values, err := statusIn.Values()
		require.NoError(mt, err)
		require.Len(mt, values, 1)
		assert.Equal(mt, "pending", values[0].StringValue())
	})

	mt.Run("guard miss is not found", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}})

		_, err := repo.TransitionStatus(context.Background(), id,
			[]models.WithdrawalStatus{models.WithdrawalPending}, models.WithdrawalApproved,
			models.TransitionUpdate{ProcessedBy: adminID, ProcessedAt: now})
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestWithdrawalRepository_Create(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("assigns an id", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		w := &models.WithdrawalRequest{UserID: primitive.NewObjectID(), Amount: 100, Status: models.WithdrawalPending}
		require.NoError(mt, repo.Create(context.Background(), w))
		assert.False(mt, w.ID.IsZero())
	})

	mt.Run("second open request is a duplicate", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error index: one_open_withdrawal_per_user",
		}))

		err := repo.Create(context.Background(), &models.WithdrawalRequest{UserID: primitive.NewObjectID(), Status: models.WithdrawalPending})
		assert.ErrorIs(mt, err, ErrDuplicate)
	})
}

func TestWithdrawalRepository_ReservePayout(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	id := primitive.NewObjectID()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-10 * time.Minute)

	mt.Run("reserves an unpaid approved request", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "status", Value: "approved"},
			{Key: "payoutLockedAt", Value: now},
		}}))

		w, err := repo.ReservePayout(context.Background(), id, now, staleBefore)
		require.NoError(mt, err)
		require.NotNil(mt, w.PayoutLockedAt)
		assert.True(mt, now.Equal(*w.PayoutLockedAt))

		query := mt.GetStartedEvent().Command.Lookup("query").Document()
		assert.Equal(mt, "approved", query.Lookup("status").StringValue())
		_, err = query.LookupErr("priorityPaymentDocId", "$in")
		assert.NoError(mt, err)
		branches, err := query.Lookup("$or").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, branches, 2)
	})

	mt.Run("held or paid request is not found", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}})

		_, err := repo.ReservePayout(context.Background(), id, now, staleBefore)
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestWithdrawalRepository_FindByID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "amount", Value: 75.5},
			{Key: "status", Value: "pending"},
		}))

		w, err := repo.FindByID(context.Background(), id)
		require.NoError(mt, err)
		assert.Equal(mt, 75.5, w.Amount)
		assert.Equal(mt, models.WithdrawalPending, w.Status)
	})

	mt.Run("missing", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch))

		_, err := repo.FindByID(context.Background(), primitive.NewObjectID())
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestWithdrawalRepository_DeleteInStatus(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns deleted document", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "amount", Value: 40.0},
			{Key: "status", Value: "pending"},
		}}))

		w, err := repo.DeleteInStatus(context.Background(), id, models.WithdrawalPending)
		require.NoError(mt, err)
		assert.Equal(mt, id, w.ID)

		query := mt.GetStartedEvent().Command.Lookup("query").Document()
		assert.Equal(mt, "pending", query.Lookup("status").StringValue())
	})

	mt.Run("status moved", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}})

		_, err := repo.DeleteInStatus(context.Background(), primitive.NewObjectID(), models.WithdrawalApproved)
		assert.ErrorIs(mt, err, ErrNotFound)
	})
}

func TestWithdrawalRepository_List(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("page with total", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		tenantID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch,
				bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "status", Value: "pending"}, {Key: "amount", Value: 10.0}},
				bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "status", Value: "pending"}, {Key: "amount", Value: 20.0}},
			),
			mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(42)}}),
		)

		items, total, err := repo.List(context.Background(), models.WithdrawalFilter{
			TenantID: &tenantID,
			Status:   models.WithdrawalPending,
			Page:     2,
			Limit:    500,
		})
		require.NoError(mt, err)
		assert.Len(mt, items, 2)
		assert.Equal(mt, int64(42), total)
	})
}

func TestWithdrawalRepository_Stats(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("sums pending and completed", func(mt *mtest.T) {
		repo := NewWithdrawalRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch,
				bson.D{{Key: "_id", Value: nil}, {Key: "count", Value: int64(3)}, {Key: "amount", Value: 450.0}}),
			mtest.CreateCursorResponse(0, withdrawalsNS, mtest.FirstBatch),
		)

		stats, err := repo.Stats(context.Background(), nil, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), stats.PendingCount)
		assert.Equal(mt, 450.0, stats.PendingAmount)
		assert.Zero(mt, stats.CompletedThisMonth)
		assert.Zero(mt, stats.CompletedCountThisMonth)
	})
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageLimit, limit)

	page, limit = NormalizePage(3, 1000)
	assert.Equal(t, 3, page)
	assert.Equal(t, MaxPageLimit, limit)
}
