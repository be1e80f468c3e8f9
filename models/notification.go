package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	TemplateWithdrawalApproved  = "withdrawal_approved"
	TemplateWithdrawalRejected  = "withdrawal_rejected"
	TemplateWithdrawalCompleted = "withdrawal_completed"
)

// Notification is the in-app record shown in the agent's notification center.
type Notification struct {
	ID        primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID    primitive.ObjectID `json:"userId" bson:"userId"`
	Title     string             `json:"title" bson:"title"`
	Message   string             `json:"message" bson:"message"`
	Type      string             `json:"type" bson:"type"`
	Data      interface{}        `json:"data,omitempty" bson:"data"`
	IsRead    bool               `json:"isRead" bson:"isRead"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

type NotificationTemplate struct {
	Type     string   `json:"type" bson:"type"`
	Audience []string `json:"audience" bson:"audience"`
	Title    string   `json:"title" bson:"title"`
	Body     string   `json:"body" bson:"body"`
	Enabled  *bool    `json:"enabled,omitempty" bson:"enabled,omitempty"`
}

func (t *NotificationTemplate) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// NotificationEvent asks for a templated message to be delivered to users.
type NotificationEvent struct {
	TemplateType    string               `json:"templateType" bson:"templateType"`
	Variables       map[string]string    `json:"variables" bson:"variables"`
	AudienceUserIDs []primitive.ObjectID `json:"audienceUserIds" bson:"audienceUserIds"`
	WithdrawalID    *primitive.ObjectID  `json:"withdrawalId,omitempty" bson:"withdrawalId,omitempty"`
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxSent       OutboxStatus = "sent"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEvent is a queued notification awaiting delivery.
type OutboxEvent struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID       string             `bson:"eventId" json:"eventId"`
	Event         NotificationEvent  `bson:"event" json:"event"`
	Status        OutboxStatus       `bson:"status" json:"status"`
	Attempts      int                `bson:"attempts" json:"attempts"`
	LastError     string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	NextAttemptAt time.Time          `bson:"nextAttemptAt" json:"nextAttemptAt"`
	LockedUntil   *time.Time         `bson:"lockedUntil,omitempty" json:"lockedUntil,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
	SentAt        *time.Time         `bson:"sentAt,omitempty" json:"sentAt,omitempty"`
}
