// models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
	// RoleSuperAdmin is accepted alongside an admin without tenant.
	RoleSuperAdmin = "super_admin"
)

// User holds the fields of a platform user relevant to commission settlement.
type User struct {
	ID                 primitive.ObjectID  `json:"id,omitempty" bson:"_id,omitempty"`
	Email              string              `json:"email" bson:"email"`
	FullName           string              `json:"fullName" bson:"fullName"`
	Phone              string              `json:"phone,omitempty" bson:"phone,omitempty"`
	Role               string              `json:"role" bson:"role"`
	TenantID           *primitive.ObjectID `json:"tenantId,omitempty" bson:"tenantId,omitempty"`
	CommissionBalance  float64             `json:"commissionBalance" bson:"commissionBalance"`
	CommissionOnHold   float64             `json:"commissionOnHold" bson:"commissionOnHold"`
	PrioritySupplierID string              `json:"prioritySupplierId,omitempty" bson:"prioritySupplierId,omitempty"`
	VatID              string              `json:"vatId,omitempty" bson:"vatId,omitempty"`
	FCMToken           string              `json:"fcmToken,omitempty" bson:"fcmToken,omitempty"`
	CreatedAt          time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// UserSnapshot is the denormalized owner view attached to withdrawal responses.
type UserSnapshot struct {
	ID                string  `json:"id"`
	FullName          string  `json:"fullName"`
	Email             string  `json:"email"`
	Phone             string  `json:"phone"`
	Role              string  `json:"role"`
	CommissionBalance float64 `json:"commissionBalance"`
	CommissionOnHold  float64 `json:"commissionOnHold"`
}

func (u *User) Snapshot() *UserSnapshot {
	if u == nil {
		return nil
	}
	role := u.Role
	if role == "" {
		role = RoleAgent
	}
	return &UserSnapshot{
		ID:                u.ID.Hex(),
		FullName:          u.FullName,
		Email:             u.Email,
		Phone:             u.Phone,
		Role:              role,
		CommissionBalance: u.CommissionBalance,
		CommissionOnHold:  u.CommissionOnHold,
	}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID       primitive.ObjectID
	Email    string
	Role     string
	TenantID *primitive.ObjectID
}

// IsSuperAdmin reports whether the actor may operate across tenants. Only the
// explicit super_admin role does; an admin token without a tenant is scoped to
// nothing.
func (a Actor) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

type WithdrawalResponse struct {
	OK                bool            `json:"ok"`
	Message           string          `json:"message,omitempty"`
	PriorityPaymentID string          `json:"priorityPaymentId,omitempty"`
	Withdrawal        *WithdrawalView `json:"withdrawal,omitempty"`
	Deleted           bool            `json:"deleted,omitempty"`
}
