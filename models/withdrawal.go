package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

// IsOpen reports whether funds are still held for the request.
func (s WithdrawalStatus) IsOpen() bool {
	return s == WithdrawalPending || s == WithdrawalApproved
}

func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalRejected || s == WithdrawalCompleted
}

func (s WithdrawalStatus) IsValid() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected, WithdrawalCompleted:
		return true
	}
	return false
}

type WithdrawalAction string

const (
	ActionApprove        WithdrawalAction = "approve"
	ActionReject         WithdrawalAction = "reject"
	ActionComplete       WithdrawalAction = "complete"
	ActionPayViaPriority WithdrawalAction = "pay_via_priority"
	ActionDelete         WithdrawalAction = "delete"
)

func (a WithdrawalAction) IsValid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionComplete, ActionPayViaPriority, ActionDelete:
		return true
	}
	return false
}

type WithdrawalRequest struct {
	ID                   primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	UserID               primitive.ObjectID   `bson:"userId" json:"userId"`
	TenantID             *primitive.ObjectID  `bson:"tenantId,omitempty" json:"tenantId,omitempty"`
	Amount               float64              `bson:"amount" json:"amount"`
	Status               WithdrawalStatus     `bson:"status" json:"status"`
	Notes                string               `bson:"notes" json:"notes"`
	AdminNotes           string               `bson:"adminNotes" json:"adminNotes"`
	PaymentDetails       *PaymentDetails      `bson:"paymentDetails,omitempty" json:"paymentDetails,omitempty"`
	SnapshotBalance      float64              `bson:"snapshotBalance" json:"snapshotBalance"`
	SnapshotOnHold       float64              `bson:"snapshotOnHold" json:"snapshotOnHold"`
	ProcessedBy          *primitive.ObjectID  `bson:"processedBy,omitempty" json:"processedBy,omitempty"`
	ProcessedAt          *time.Time           `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	PriorityPaymentDocID string               `bson:"priorityPaymentDocId,omitempty" json:"priorityPaymentDocId,omitempty"`
	PayoutLockedAt       *time.Time           `bson:"payoutLockedAt,omitempty" json:"-"`
	ClaimedOrderIDs      []primitive.ObjectID `bson:"claimedOrderIds,omitempty" json:"claimedOrderIds,omitempty"`
	ClaimedTotal         float64              `bson:"claimedTotal,omitempty" json:"claimedTotal,omitempty"`
	CreatedAt            time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time            `bson:"updatedAt" json:"updatedAt"`
}

type PaymentDetails struct {
	Method        string `bson:"method,omitempty" json:"method,omitempty"` // bank_transfer, bit, paypal, check
	BankName      string `bson:"bankName,omitempty" json:"bankName,omitempty"`
	BranchNumber  string `bson:"branchNumber,omitempty" json:"branchNumber,omitempty"`
	AccountNumber string `bson:"accountNumber,omitempty" json:"accountNumber,omitempty"`
	AccountHolder string `bson:"accountHolder,omitempty" json:"accountHolder,omitempty"`
	Phone         string `bson:"phone,omitempty" json:"phone,omitempty"`
}

// TransitionUpdate is written together with a status change.
type TransitionUpdate struct {
	AdminNotes  string
	ProcessedBy primitive.ObjectID
	ProcessedAt time.Time
}

type WithdrawalFilter struct {
	TenantID *primitive.ObjectID
	Status   WithdrawalStatus
	Page     int
	Limit    int
}

type WithdrawalStats struct {
	PendingCount            int64   `json:"pendingCount"`
	PendingAmount           float64 `json:"pendingAmount"`
	CompletedThisMonth      float64 `json:"completedThisMonth"`
	CompletedCountThisMonth int64   `json:"completedCountThisMonth"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// WithdrawalView is the API representation, merged with the owner snapshot.
type WithdrawalView struct {
	ID                   string        `json:"id"`
	UserID               string        `json:"userId"`
	Amount               float64       `json:"amount"`
	Status               string        `json:"status"`
	Notes                string        `json:"notes"`
	AdminNotes           string        `json:"adminNotes"`
	SnapshotBalance      float64       `json:"snapshotBalance"`
	SnapshotOnHold       float64       `json:"snapshotOnHold"`
	ProcessedBy          *string       `json:"processedBy"`
	ProcessedAt          *time.Time    `json:"processedAt"`
	PriorityPaymentDocID string        `json:"priorityPaymentDocId,omitempty"`
	ClaimedTotal         float64       `json:"claimedTotal,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
	User                 *UserSnapshot `json:"user"`
}

func NewWithdrawalView(w *WithdrawalRequest, user *UserSnapshot) *WithdrawalView {
	view := &WithdrawalView{
		ID:                   w.ID.Hex(),
		UserID:               w.UserID.Hex(),
		Amount:               w.Amount,
		Status:               string(w.Status),
		Notes:                w.Notes,
		AdminNotes:           w.AdminNotes,
		SnapshotBalance:      w.SnapshotBalance,
		SnapshotOnHold:       w.SnapshotOnHold,
		ProcessedAt:          w.ProcessedAt,
		PriorityPaymentDocID: w.PriorityPaymentDocID,
		ClaimedTotal:         w.ClaimedTotal,
		CreatedAt:            w.CreatedAt,
		UpdatedAt:            w.UpdatedAt,
		User:                 user,
	}
	if w.ProcessedBy != nil {
		processedBy := w.ProcessedBy.Hex()
		view.ProcessedBy = &processedBy
	}
	return view
}

// AgentWithdrawalView is what an agent sees of their own requests.
type AgentWithdrawalView struct {
	ID          string           `json:"_id"`
	Amount      float64          `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	Notes       string           `json:"notes"`
	AdminNotes  string           `json:"adminNotes"`
	CreatedAt   time.Time        `json:"createdAt"`
	ProcessedAt *time.Time       `json:"processedAt"`
}

func NewAgentWithdrawalView(w *WithdrawalRequest) AgentWithdrawalView {
	return AgentWithdrawalView{
		ID:          w.ID.Hex(),
		Amount:      w.Amount,
		Status:      w.Status,
		Notes:       w.Notes,
		AdminNotes:  w.AdminNotes,
		CreatedAt:   w.CreatedAt,
		ProcessedAt: w.ProcessedAt,
	}
}
