package controllers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/middleware"
	"github.com/vipogroup/vipo_backend/models"
	"github.com/vipogroup/vipo_backend/services"
	"github.com/vipogroup/vipo_backend/utils"
)

// WithdrawalService is the settlement API used by the handlers.
type WithdrawalService interface {
	Get(ctx context.Context, actor models.Actor, rawID string) (*models.WithdrawalView, error)
	Apply(ctx context.Context, actor models.Actor, rawID string, action models.WithdrawalAction, adminNotes string) (*models.WithdrawalResponse, error)
	List(ctx context.Context, actor models.Actor, filter models.WithdrawalFilter) (*services.WithdrawalList, error)
	Request(ctx context.Context, actor models.Actor, in services.WithdrawalInput) (*services.WithdrawalReceipt, error)
	ListMine(ctx context.Context, actor models.Actor) ([]models.AgentWithdrawalView, error)
}

// LedgerHistory lists an agent's balance movements.
type LedgerHistory interface {
	History(ctx context.Context, actor models.Actor) ([]models.LedgerEntry, error)
}

type WithdrawalController struct {
	withdrawals WithdrawalService
	ledger      LedgerHistory
}

func NewWithdrawalController(withdrawals WithdrawalService, ledger LedgerHistory) *WithdrawalController {
	return &WithdrawalController{withdrawals: withdrawals, ledger: ledger}
}

// UpdateWithdrawalRequest is the body of PATCH /api/admin/withdrawals/:id
type UpdateWithdrawalRequest struct {
	Action     string `json:"action" validate:"required,oneof=approve reject complete pay_via_priority delete"`
	AdminNotes string `json:"adminNotes" validate:"max=2000"`
}

// CreateWithdrawalRequest is the body of POST /api/withdrawals
type CreateWithdrawalRequest struct {
	Amount         float64                `json:"amount" validate:"required,gt=0"`
	Notes          string                 `json:"notes" validate:"max=2000"`
	PaymentDetails *PaymentDetailsRequest `json:"paymentDetails" validate:"omitempty"`
}

type PaymentDetailsRequest struct {
	Method        string `json:"method" validate:"omitempty,oneof=bank_transfer bit paypal check"`
	BankName      string `json:"bankName" validate:"max=100"`
	BranchNumber  string `json:"branchNumber" validate:"omitempty,numeric,max=10"`
	AccountNumber string `json:"accountNumber" validate:"omitempty,numeric,max=20"`
	AccountHolder string `json:"accountHolder" validate:"max=100"`
	Phone         string `json:"phone" validate:"max=20"`
}

func (p *PaymentDetailsRequest) model() *models.PaymentDetails {
	if p == nil {
		return nil
	}
	return &models.PaymentDetails{
		Method:        p.Method,
		BankName:      utils.NormalizeNotes(p.BankName),
		BranchNumber:  p.BranchNumber,
		AccountNumber: p.AccountNumber,
		AccountHolder: utils.NormalizeNotes(p.AccountHolder),
		Phone:         utils.NormalizeNotes(p.Phone),
	}
}

func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, err, msgInvalidBody)
	}
	return c.Validate(dst)
}

// GetWithdrawal returns one withdrawal with its owner snapshot.
// GET /api/admin/withdrawals/:id
func (wc *WithdrawalController) GetWithdrawal(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	view, err := wc.withdrawals.Get(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.WithdrawalResponse{OK: true, Withdrawal: view})
}

// UpdateWithdrawal applies an admin action to a withdrawal.
// PATCH /api/admin/withdrawals/:id
func (wc *WithdrawalController) UpdateWithdrawal(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	var req UpdateWithdrawalRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	resp, err := wc.withdrawals.Apply(
		c.Request().Context(),
		actor,
		c.Param("id"),
		models.WithdrawalAction(req.Action),
		utils.NormalizeNotes(req.AdminNotes),
	)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// ListWithdrawals returns a page of withdrawals with summary stats.
// GET /api/admin/withdrawals?status=&page=&limit=
func (wc *WithdrawalController) ListWithdrawals(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	filter := models.WithdrawalFilter{
		Status: models.WithdrawalStatus(c.QueryParam("status")),
		Page:   utils.ParsePositiveInt(c.QueryParam("page"), 1),
		Limit:  utils.ParsePositiveInt(c.QueryParam("limit"), 0),
	}

	list, err := wc.withdrawals.List(c.Request().Context(), actor, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, list)
}

// CreateWithdrawal opens a withdrawal request for the calling agent.
// POST /api/withdrawals
func (wc *WithdrawalController) CreateWithdrawal(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	var req CreateWithdrawalRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	receipt, err := wc.withdrawals.Request(c.Request().Context(), actor, services.WithdrawalInput{
		Amount:         req.Amount,
		Notes:          utils.NormalizeNotes(req.Notes),
		PaymentDetails: req.PaymentDetails.model(),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, receipt)
}

// ListMyWithdrawals returns the agent's own requests, newest first.
// GET /api/withdrawals
func (wc *WithdrawalController) ListMyWithdrawals(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	requests, err := wc.withdrawals.ListMine(c.Request().Context(), actor)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":       true,
		"requests": requests,
	})
}

// GetLedger returns the agent's recent balance movements.
// GET /api/withdrawals/ledger
func (wc *WithdrawalController) GetLedger(c echo.Context) error {
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return err
	}

	entries, err := wc.ledger.History(c.Request().Context(), actor)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"entries": entries,
	})
}
