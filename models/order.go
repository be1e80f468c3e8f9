package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionAvailable CommissionStatus = "available"
	CommissionClaimed   CommissionStatus = "claimed"
)

// Fulfillment states whose commission may be claimed by a withdrawal.
var ClaimableOrderStatuses = []string{"paid", "completed", "shipped"}

// Commission states counted as withdrawable; pending is treated as available.
var ClaimableCommissionStatuses = []CommissionStatus{CommissionAvailable, CommissionPending}

// Order holds only the commission-bearing fields of a storefront order.
type Order struct {
	ID                  primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	AgentID             *primitive.ObjectID `bson:"agentId,omitempty" json:"agentId,omitempty"`
	RefAgentID          *primitive.ObjectID `bson:"refAgentId,omitempty" json:"refAgentId,omitempty"`
	TenantID            *primitive.ObjectID `bson:"tenantId,omitempty" json:"tenantId,omitempty"`
	Status              string              `bson:"status" json:"status"`
	CommissionAmount    float64             `bson:"commissionAmount" json:"commissionAmount"`
	CommissionStatus    CommissionStatus    `bson:"commissionStatus" json:"commissionStatus"`
	ClaimedAt           *time.Time          `bson:"claimedAt,omitempty" json:"claimedAt,omitempty"`
	ClaimedByWithdrawal *primitive.ObjectID `bson:"claimedByWithdrawal,omitempty" json:"claimedByWithdrawal,omitempty"`
	CreatedAt           time.Time           `bson:"createdAt" json:"createdAt"`
}
