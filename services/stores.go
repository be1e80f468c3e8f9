package services

import (
	"context"
	"time"

	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Persistence contracts used by the services. The repositories package
// provides the MongoDB implementations.

type WithdrawalStore interface {
	Create(ctx context.Context, w *models.WithdrawalRequest) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.WithdrawalRequest, error)
	FindOpenByUser(ctx context.Context, userID primitive.ObjectID) (*models.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]models.WithdrawalRequest, error)
	TransitionStatus(ctx context.Context, id primitive.ObjectID, from []models.WithdrawalStatus, to models.WithdrawalStatus, upd models.TransitionUpdate) (*models.WithdrawalRequest, error)
	DeleteInStatus(ctx context.Context, id primitive.ObjectID, status models.WithdrawalStatus) (*models.WithdrawalRequest, error)
	ReservePayout(ctx context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.WithdrawalRequest, error)
	ReleasePayout(ctx context.Context, id primitive.ObjectID) error
	SetPriorityPayment(ctx context.Context, id primitive.ObjectID, paymentDocID string) error
	SetClaims(ctx context.Context, id primitive.ObjectID, orderIDs []primitive.ObjectID, total float64) error
	List(ctx context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error)
	Stats(ctx context.Context, tenantID *primitive.ObjectID, monthStart time.Time) (*models.WithdrawalStats, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error)
	IncrementBalances(ctx context.Context, id primitive.ObjectID, balanceDelta, holdDelta float64, minBalance *float64, now time.Time) (*models.User, error)
	SetBalance(ctx context.Context, id primitive.ObjectID, expected, target float64, now time.Time) (*models.User, error)
	SetPrioritySupplierID(ctx context.Context, id primitive.ObjectID, supplierID string) error
}

type OrderStore interface {
	FindClaimable(ctx context.Context, agentID primitive.ObjectID) ([]models.Order, error)
	MarkClaimed(ctx context.Context, orderIDs []primitive.ObjectID, withdrawalID primitive.ObjectID, now time.Time) (int64, error)
}

type LedgerEntryStore interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) error
	ListByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.LedgerEntry, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event models.NotificationEvent) (*models.OutboxEvent, error)
	ClaimDue(ctx context.Context, now time.Time, lockFor time.Duration) (*models.OutboxEvent, error)
	MarkSent(ctx context.Context, id primitive.ObjectID, now time.Time) error
	Reschedule(ctx context.Context, id primitive.ObjectID, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, lastErr string) error
}

type NotificationStore interface {
	Save(ctx context.Context, n *models.Notification) error
	FindTemplate(ctx context.Context, templateType string) (*models.NotificationTemplate, error)
}

// Transactor runs fn as one unit of work.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

// RealtimePublisher pushes a message to a connected user. Implementations
// return an error when the user is not connected.
type RealtimePublisher interface {
	Publish(userID primitive.ObjectID, messageType, message string, data interface{}) error
}
