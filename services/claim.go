package services

import (
	"github.com/shopspring/decimal"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClaimPlan is the set of orders a completed withdrawal consumes.
type ClaimPlan struct {
	OrderIDs []primitive.ObjectID
	Total    decimal.Decimal
	Amount   decimal.Decimal
}

// Reconciled reports whether the claimed commission equals the withdrawn amount.
func (p ClaimPlan) Reconciled() bool {
	return p.Total.Equal(p.Amount)
}

func (p ClaimPlan) TotalFloat() float64 {
	return p.Total.InexactFloat64()
}

// PlanClaims walks orders in the given order (oldest first) and claims each
// one until the withdrawn amount is covered. The result is the shortest
// prefix whose commission sum reaches amount, or every order when the
// orders do not cover it.
func PlanClaims(orders []models.Order, amount float64) ClaimPlan {
	plan := ClaimPlan{
		Total:  decimal.Zero,
		Amount: decimal.NewFromFloat(amount),
	}

	remaining := plan.Amount
	for _, order := range orders {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		commission := decimal.NewFromFloat(order.CommissionAmount)
		if commission.LessThanOrEqual(decimal.Zero) {
			continue
		}
		plan.OrderIDs = append(plan.OrderIDs, order.ID)
		plan.Total = plan.Total.Add(commission)
		remaining = remaining.Sub(commission)
	}
	return plan
}

// SumCommission totals the commission of orders.
func SumCommission(orders []models.Order) decimal.Decimal {
	total := decimal.Zero
	for _, order := range orders {
		total = total.Add(decimal.NewFromFloat(order.CommissionAmount))
	}
	return total
}
