package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/models"
	"github.com/vipogroup/vipo_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const ledgerHistoryLimit = 50

const (
	msgUserNotFound        = "המשתמש לא נמצא"
	msgInsufficientBalance = "יתרה לא מספיקה"
	msgBalanceChanged      = "היתרה עודכנה בזמן הבקשה, נסה שוב"
)

// LedgerService is the only writer of commissionBalance and commissionOnHold.
// Every applied delta is recorded in the ledger entries collection.
type LedgerService struct {
	users   UserStore
	entries LedgerEntryStore
	now     func() time.Time
}

func NewLedgerService(users UserStore, entries LedgerEntryStore) *LedgerService {
	return &LedgerService{
		users:   users,
		entries: entries,
		now:     time.Now,
	}
}

// ApplyDelta adjusts both balances of d.UserID in one update and returns the
// resulting user.
func (s *LedgerService) ApplyDelta(ctx context.Context, d models.LedgerDelta) (*models.User, error) {
	if d.BalanceDelta == 0 && d.HoldDelta == 0 {
		return nil, apperrors.Validation("empty ledger delta")
	}

	var minBalance *float64
	if d.RequireBalance && d.BalanceDelta < 0 {
		required := -d.BalanceDelta
		minBalance = &required
	}

	now := s.now()
	user, err := s.users.IncrementBalances(ctx, d.UserID, d.BalanceDelta, d.HoldDelta, minBalance, now)
	if errors.Is(err, repositories.ErrNotFound) {
		if minBalance != nil {
			if _, findErr := s.users.FindByID(ctx, d.UserID); findErr == nil {
				return nil, apperrors.Validation(msgInsufficientBalance)
			}
		}
		return nil, apperrors.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("applying ledger delta: %w", err)
	}

	entry := &models.LedgerEntry{
		UserID:       d.UserID,
		WithdrawalID: d.WithdrawalID,
		Reason:       d.Reason,
		BalanceDelta: d.BalanceDelta,
		HoldDelta:    d.HoldDelta,
		BalanceAfter: user.CommissionBalance,
		OnHoldAfter:  user.CommissionOnHold,
		CreatedAt:    now,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording ledger entry: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("userId", d.UserID.Hex()).
		Str("reason", string(d.Reason)).
		Float64("balanceDelta", d.BalanceDelta).
		Float64("holdDelta", d.HoldDelta).
		Float64("balanceAfter", user.CommissionBalance).
		Float64("onHoldAfter", user.CommissionOnHold).
		Msg("ledger delta applied")

	return user, nil
}

// SyncBalance sets the user's commissionBalance to target, provided it still
// equals expected, and records the difference as one entry. A balance that
// moved since it was read is a conflict.
func (s *LedgerService) SyncBalance(ctx context.Context, userID primitive.ObjectID, expected, target float64, withdrawalID *primitive.ObjectID) (*models.User, error) {
	now := s.now()
	user, err := s.users.SetBalance(ctx, userID, expected, target, now)
	if errors.Is(err, repositories.ErrNotFound) {
		if _, findErr := s.users.FindByID(ctx, userID); findErr == nil {
			return nil, apperrors.Conflict(msgBalanceChanged)
		}
		return nil, apperrors.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("syncing balance: %w", err)
	}

	delta := decimal.NewFromFloat(target).Sub(decimal.NewFromFloat(expected)).InexactFloat64()
	entry := &models.LedgerEntry{
		UserID:       userID,
		WithdrawalID: withdrawalID,
		Reason:       models.LedgerReasonBalanceSync,
		BalanceDelta: delta,
		BalanceAfter: user.CommissionBalance,
		OnHoldAfter:  user.CommissionOnHold,
		CreatedAt:    now,
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording ledger entry: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("userId", userID.Hex()).
		Float64("from", expected).
		Float64("to", target).
		Msg("commission balance synced")

	return user, nil
}

// History returns the caller's most recent ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, actor models.Actor) ([]models.LedgerEntry, error) {
	entries, err := s.entries.ListByUser(ctx, actor.ID, ledgerHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	return entries, nil
}
