package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LedgerReason string

const (
	LedgerReasonWithdrawalRequested LedgerReason = "withdrawal_requested"
	LedgerReasonWithdrawalRejected  LedgerReason = "withdrawal_rejected"
	LedgerReasonWithdrawalCompleted LedgerReason = "withdrawal_completed"
	LedgerReasonWithdrawalDeleted   LedgerReason = "withdrawal_deleted"
	LedgerReasonBalanceSync         LedgerReason = "balance_sync"
)

// LedgerDelta is one mutation of an agent's commission balances.
type LedgerDelta struct {
	UserID       primitive.ObjectID
	BalanceDelta float64
	HoldDelta    float64
	Reason       LedgerReason
	WithdrawalID *primitive.ObjectID
	// RequireBalance rejects the delta unless commissionBalance covers a negative BalanceDelta.
	RequireBalance bool
}

// LedgerEntry is the audit record appended for every applied delta.
type LedgerEntry struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID       primitive.ObjectID  `bson:"userId" json:"userId"`
	WithdrawalID *primitive.ObjectID `bson:"withdrawalId,omitempty" json:"withdrawalId,omitempty"`
	Reason       LedgerReason        `bson:"reason" json:"reason"`
	BalanceDelta float64             `bson:"balanceDelta" json:"balanceDelta"`
	HoldDelta    float64             `bson:"holdDelta" json:"holdDelta"`
	BalanceAfter float64             `bson:"balanceAfter" json:"balanceAfter"`
	OnHoldAfter  float64             `bson:"onHoldAfter" json:"onHoldAfter"`
	CreatedAt    time.Time           `bson:"createdAt" json:"createdAt"`
}
