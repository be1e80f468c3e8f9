package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vipogroup/vipo_backend/apperrors"
	"github.com/vipogroup/vipo_backend/metrics"
	"github.com/vipogroup/vipo_backend/models"
	"github.com/vipogroup/vipo_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	msgInvalidWithdrawalID   = "מזהה בקשת משיכה לא תקין"
	msgInvalidAction         = "פעולה לא חוקית"
	msgWithdrawalNotFound    = "בקשת המשיכה לא נמצאה"
	msgWithdrawalForbidden   = "אין הרשאה לגשת לבקשת משיכה זו"
	msgCannotApprove         = "לא ניתן לאשר בקשה בסטטוס הנוכחי"
	msgAlreadyProcessed      = "הבקשה כבר טופלה"
	msgAlreadyFinalized      = "הבקשה כבר נסגרה"
	msgOnlyApprovedComplete  = "רק בקשות מאושרות ניתנות להשלמה"
	msgCannotDeleteCompleted = "לא ניתן למחוק בקשה שהושלמה"
	msgPriorityNotConfigured = "Priority ERP לא מוגדר במערכת"
	msgOnlyApprovedPay       = "רק בקשות מאושרות ניתנות לתשלום"
	msgPriorityFailed        = "שגיאה ביצירת תשלום Priority: "
	msgAlreadyPaid           = "כבר נוצר מסמך תשלום Priority לבקשה זו"
	msgPayoutInProgress      = "תשלום Priority לבקשה זו כבר בתהליך"
	msgDefaultRejectReason   = "לא צוינה סיבה"
	msgOpenRequestExists     = "קיימת בקשת משיכה פעילה. המתן לאישור מנהל לפני פתיחת בקשה נוספת."
	msgInvalidAmount         = "סכום משיכה לא תקין"
	msgBelowMinimum          = "סכום המשיכה המינימלי הוא %s ₪"

	msgApproved  = "הבקשה אושרה"
	msgRejected  = "הבקשה נדחתה והיתרה הוחזרה לסוכן"
	msgCompleted = "ההעברה סומנה כבוצעה"
	msgPaid      = "מסמך תשלום נוצר ב-Priority"
	msgDeleted   = "הבקשה נמחקה"

	RealtimeWithdrawalUpdate = "withdrawal_update"
)

// payoutLockTTL bounds how long a payout reservation blocks other attempts.
// The gateway call itself is limited by the Priority client timeout.
const payoutLockTTL = 10 * time.Minute

type WithdrawalDeps struct {
	Withdrawals WithdrawalStore
	Users       UserStore
	Orders      OrderStore
	Ledger      *LedgerService
	Outbox      OutboxStore
	Tx          Transactor
	Payouts     PayoutGateway
	Realtime    RealtimePublisher
	Metrics     *metrics.SettlementMetrics
	MinAmount   float64
}

// WithdrawalService drives the withdrawal lifecycle:
// pending -> approved -> completed, with rejection from pending or approved
// and deletion of anything not completed.
type WithdrawalService struct {
	withdrawals WithdrawalStore
	users       UserStore
	orders      OrderStore
	ledger      *LedgerService
	outbox      OutboxStore
	tx          Transactor
	payouts     PayoutGateway
	realtime    RealtimePublisher
	metrics     *metrics.SettlementMetrics
	minAmount   float64
	now         func() time.Time
}

func NewWithdrawalService(deps WithdrawalDeps) *WithdrawalService {
	return &WithdrawalService{
		withdrawals: deps.Withdrawals,
		users:       deps.Users,
		orders:      deps.Orders,
		ledger:      deps.Ledger,
		outbox:      deps.Outbox,
		tx:          deps.Tx,
		payouts:     deps.Payouts,
		realtime:    deps.Realtime,
		metrics:     deps.Metrics,
		minAmount:   deps.MinAmount,
		now:         time.Now,
	}
}

// Get returns the withdrawal with its owner's current snapshot.
func (s *WithdrawalService) Get(ctx context.Context, actor models.Actor, rawID string) (*models.WithdrawalView, error) {
	id, err := parseWithdrawalID(rawID)
	if err != nil {
		return nil, err
	}
	w, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, w), nil
}

// Apply performs an admin action on a withdrawal.
func (s *WithdrawalService) Apply(ctx context.Context, actor models.Actor, rawID string, action models.WithdrawalAction, adminNotes string) (resp *models.WithdrawalResponse, err error) {
	defer func() {
		label := string(action)
		if !action.IsValid() {
			label = "invalid"
		}
		s.metrics.ObserveTransition(label, err)
	}()

	id, err := parseWithdrawalID(rawID)
	if err != nil {
		return nil, err
	}
	if !action.IsValid() {
		return nil, apperrors.Validation(msgInvalidAction)
	}

	w, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx).With().
		Str("withdrawalId", id.Hex()).
		Str("action", string(action)).
		Str("adminId", actor.ID.Hex()).
		Logger()

	switch action {
	case models.ActionApprove:
		updated, err := s.approve(ctx, actor, w, adminNotes)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("withdrawal approved")
		return s.respond(ctx, updated, msgApproved), nil

	case models.ActionReject:
		updated, err := s.reject(ctx, actor, w, adminNotes)
		if err != nil {
			return nil, err
		}
		logger.Info().Float64("amount", w.Amount).Msg("withdrawal rejected, funds returned")
		return s.respond(ctx, updated, msgRejected), nil

	case models.ActionComplete:
		updated, err := s.complete(ctx, actor, w, adminNotes)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Float64("amount", w.Amount).
			Int("claimedOrders", len(updated.ClaimedOrderIDs)).
			Float64("claimedTotal", updated.ClaimedTotal).
			Msg("withdrawal completed")
		return s.respond(ctx, updated, msgCompleted), nil

	case models.ActionPayViaPriority:
		updated, err := s.payViaPriority(ctx, w)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("paymentId", updated.PriorityPaymentDocID).Msg("withdrawal paid via Priority")
		resp := s.respond(ctx, updated, msgPaid)
		resp.PriorityPaymentID = updated.PriorityPaymentDocID
		return resp, nil

	default: // delete
		if err := s.delete(ctx, w); err != nil {
			return nil, err
		}
		logger.Info().Str("status", string(w.Status)).Msg("withdrawal deleted")
		return &models.WithdrawalResponse{OK: true, Message: msgDeleted, Deleted: true}, nil
	}
}

func (s *WithdrawalService) approve(ctx context.Context, actor models.Actor, w *models.WithdrawalRequest, notes string) (*models.WithdrawalRequest, error) {
	if w.Status != models.WithdrawalPending {
		return nil, apperrors.Conflict(msgCannotApprove)
	}

	var updated *models.WithdrawalRequest
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.transition(ctx, w.ID, []models.WithdrawalStatus{models.WithdrawalPending},
			models.WithdrawalApproved, s.transitionUpdate(actor, notes), msgAlreadyProcessed)
		if err != nil {
			return err
		}
		return s.enqueue(ctx, models.TemplateWithdrawalApproved, w, map[string]string{
			"amount": formatAmount(w.Amount),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdate(updated)
	return updated, nil
}

func (s *WithdrawalService) reject(ctx context.Context, actor models.Actor, w *models.WithdrawalRequest, notes string) (*models.WithdrawalRequest, error) {
	if !w.Status.IsOpen() {
		return nil, apperrors.Conflict(msgAlreadyFinalized)
	}

	reason := notes
	if reason == "" {
		reason = msgDefaultRejectReason
	}

	var updated *models.WithdrawalRequest
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.transition(ctx, w.ID, []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved},
			models.WithdrawalRejected, s.transitionUpdate(actor, notes), msgAlreadyFinalized)
		if err != nil {
			return err
		}
		if err := s.releaseHold(ctx, updated, models.LedgerReasonWithdrawalRejected); err != nil {
			return err
		}
		return s.enqueue(ctx, models.TemplateWithdrawalRejected, w, map[string]string{
			"amount": formatAmount(w.Amount),
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishUpdate(updated)
	return updated, nil
}

func (s *WithdrawalService) complete(ctx context.Context, actor models.Actor, w *models.WithdrawalRequest, notes string) (*models.WithdrawalRequest, error) {
	if w.Status != models.WithdrawalApproved {
		return nil, apperrors.Conflict(msgOnlyApprovedComplete)
	}

	var (
		updated *models.WithdrawalRequest
		plan    ClaimPlan
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.transition(ctx, w.ID, []models.WithdrawalStatus{models.WithdrawalApproved},
			models.WithdrawalCompleted, s.transitionUpdate(actor, notes), msgAlreadyProcessed)
		if err != nil {
			return err
		}

		withdrawalID := updated.ID
		if _, err := s.ledger.ApplyDelta(ctx, models.LedgerDelta{
			UserID:       updated.UserID,
			HoldDelta:    -updated.Amount,
			Reason:       models.LedgerReasonWithdrawalCompleted,
			WithdrawalID: &withdrawalID,
		}); err != nil {
			return err
		}

		plan, err = s.claimOrders(ctx, updated)
		if err != nil {
			return err
		}
		updated.ClaimedOrderIDs = plan.OrderIDs
		updated.ClaimedTotal = plan.TotalFloat()

		return s.enqueue(ctx, models.TemplateWithdrawalCompleted, w, map[string]string{
			"amount": formatAmount(w.Amount),
		})
	})
	if err != nil {
		return nil, err
	}

	if !plan.Reconciled() {
		log.Ctx(ctx).Warn().
			Str("withdrawalId", updated.ID.Hex()).
			Str("amount", plan.Amount.String()).
			Str("claimedTotal", plan.Total.String()).
			Int("claimedOrders", len(plan.OrderIDs)).
			Msg("claimed commission does not match withdrawal amount")
	}

	s.publishUpdate(updated)
	return updated, nil
}

// claimOrders marks the agent's oldest unclaimed commission orders as
// consumed by w and records what was claimed on the withdrawal.
func (s *WithdrawalService) claimOrders(ctx context.Context, w *models.WithdrawalRequest) (ClaimPlan, error) {
	orders, err := s.orders.FindClaimable(ctx, w.UserID)
	if err != nil {
		return ClaimPlan{}, fmt.Errorf("loading claimable orders: %w", err)
	}

	plan := PlanClaims(orders, w.Amount)
	if len(plan.OrderIDs) > 0 {
		if _, err := s.orders.MarkClaimed(ctx, plan.OrderIDs, w.ID, s.now()); err != nil {
			return ClaimPlan{}, fmt.Errorf("claiming orders: %w", err)
		}
	}
	if err := s.withdrawals.SetClaims(ctx, w.ID, plan.OrderIDs, plan.TotalFloat()); err != nil {
		return ClaimPlan{}, fmt.Errorf("recording claims: %w", err)
	}
	return plan, nil
}

func (s *WithdrawalService) payViaPriority(ctx context.Context, w *models.WithdrawalRequest) (*models.WithdrawalRequest, error) {
	if s.payouts == nil || !s.payouts.Configured() {
		return nil, apperrors.Validation(msgPriorityNotConfigured)
	}
	if w.Status != models.WithdrawalApproved {
		return nil, apperrors.Conflict(msgOnlyApprovedPay)
	}
	if w.PriorityPaymentDocID != "" {
		return nil, alreadyPaid(w.PriorityPaymentDocID)
	}

	agent, err := s.users.FindByID(ctx, w.UserID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFound(msgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}

	now := s.now()
	reserved, err := s.withdrawals.ReservePayout(ctx, w.ID, now, now.Add(-payoutLockTTL))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, s.explainLostPayout(ctx, w.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("reserving payout: %w", err)
	}

	result, err := s.payouts.ProcessWithdrawal(ctx, reserved, agent)
	if err != nil {
		if releaseErr := s.withdrawals.ReleasePayout(ctx, w.ID); releaseErr != nil {
			log.Ctx(ctx).Error().Err(releaseErr).Str("withdrawalId", w.ID.Hex()).Msg("failed to release payout reservation")
		}
		return nil, apperrors.Wrap(apperrors.KindGateway, err, msgPriorityFailed+err.Error())
	}

	if result.SupplierID != "" && result.SupplierID != agent.PrioritySupplierID {
		if err := s.users.SetPrioritySupplierID(ctx, agent.ID, result.SupplierID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("userId", agent.ID.Hex()).Msg("failed to store Priority supplier id")
		}
	}
	if err := s.withdrawals.SetPriorityPayment(ctx, w.ID, result.PaymentID); err != nil {
		return nil, fmt.Errorf("recording Priority payment %s: %w", result.PaymentID, err)
	}

	updated := *reserved
	updated.PriorityPaymentDocID = result.PaymentID
	updated.UpdatedAt = s.now()
	return &updated, nil
}

// explainLostPayout tells why a payout reservation did not match.
func (s *WithdrawalService) explainLostPayout(ctx context.Context, id primitive.ObjectID) error {
	current, err := s.withdrawals.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.NotFound(msgWithdrawalNotFound)
	}
	if err != nil {
		return fmt.Errorf("reloading withdrawal: %w", err)
	}
	switch {
	case current.PriorityPaymentDocID != "":
		return alreadyPaid(current.PriorityPaymentDocID)
	case current.Status != models.WithdrawalApproved:
		return apperrors.Conflict(msgOnlyApprovedPay)
	default:
		return apperrors.Conflict(msgPayoutInProgress)
	}
}

func alreadyPaid(paymentID string) error {
	return apperrors.Conflict(msgAlreadyPaid).WithFields(map[string]interface{}{
		"priorityPaymentId": paymentID,
	})
}

// delete removes a request that was not paid out. Funds still held for an
// open request are returned after the guarded delete succeeds, so a repeated
// call cannot return them twice.
func (s *WithdrawalService) delete(ctx context.Context, w *models.WithdrawalRequest) error {
	if w.Status == models.WithdrawalCompleted {
		return apperrors.Conflict(msgCannotDeleteCompleted)
	}

	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		deleted, err := s.withdrawals.DeleteInStatus(ctx, w.ID, w.Status)
		if errors.Is(err, repositories.ErrNotFound) {
			return s.explainLostDelete(ctx, w.ID)
		}
		if err != nil {
			return fmt.Errorf("deleting withdrawal: %w", err)
		}
		if deleted.Status.IsOpen() {
			return s.releaseHold(ctx, deleted, models.LedgerReasonWithdrawalDeleted)
		}
		return nil
	})
}

func (s *WithdrawalService) explainLostDelete(ctx context.Context, id primitive.ObjectID) error {
	current, err := s.withdrawals.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.NotFound(msgWithdrawalNotFound)
	}
	if err != nil {
		return fmt.Errorf("reloading withdrawal: %w", err)
	}
	if current.Status == models.WithdrawalCompleted {
		return apperrors.Conflict(msgCannotDeleteCompleted)
	}
	return apperrors.Conflict(msgAlreadyProcessed)
}

// releaseHold moves the withdrawn amount from hold back to the balance.
func (s *WithdrawalService) releaseHold(ctx context.Context, w *models.WithdrawalRequest, reason models.LedgerReason) error {
	withdrawalID := w.ID
	_, err := s.ledger.ApplyDelta(ctx, models.LedgerDelta{
		UserID:       w.UserID,
		BalanceDelta: w.Amount,
		HoldDelta:    -w.Amount,
		Reason:       reason,
		WithdrawalID: &withdrawalID,
	})
	return err
}

func (s *WithdrawalService) transition(ctx context.Context, id primitive.ObjectID, from []models.WithdrawalStatus, to models.WithdrawalStatus, upd models.TransitionUpdate, lostMessage string) (*models.WithdrawalRequest, error) {
	updated, err := s.withdrawals.TransitionStatus(ctx, id, from, to, upd)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.Conflict(lostMessage)
	}
	if err != nil {
		return nil, fmt.Errorf("updating withdrawal status: %w", err)
	}
	return updated, nil
}

func (s *WithdrawalService) transitionUpdate(actor models.Actor, notes string) models.TransitionUpdate {
	return models.TransitionUpdate{
		AdminNotes:  notes,
		ProcessedBy: actor.ID,
		ProcessedAt: s.now(),
	}
}

// enqueue queues a notification for the owner of w. Inside a real
// transaction a failed insert aborts the unit; otherwise it is only logged.
func (s *WithdrawalService) enqueue(ctx context.Context, templateType string, w *models.WithdrawalRequest, variables map[string]string) error {
	withdrawalID := w.ID
	_, err := s.outbox.Enqueue(ctx, models.NotificationEvent{
		TemplateType:    templateType,
		Variables:       variables,
		AudienceUserIDs: []primitive.ObjectID{w.UserID},
		WithdrawalID:    &withdrawalID,
	})
	if err == nil {
		return nil
	}
	if s.tx.Transactional() {
		return fmt.Errorf("enqueueing %s notification: %w", templateType, err)
	}
	log.Ctx(ctx).Error().Err(err).
		Str("template", templateType).
		Str("withdrawalId", w.ID.Hex()).
		Msg("failed to enqueue notification")
	return nil
}

func (s *WithdrawalService) publishUpdate(w *models.WithdrawalRequest) {
	if s.realtime == nil {
		return
	}
	_ = s.realtime.Publish(w.UserID, RealtimeWithdrawalUpdate, "withdrawal status changed", map[string]interface{}{
		"id":     w.ID.Hex(),
		"status": w.Status,
		"amount": w.Amount,
	})
}

func (s *WithdrawalService) load(ctx context.Context, actor models.Actor, id primitive.ObjectID) (*models.WithdrawalRequest, error) {
	w, err := s.withdrawals.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFound(msgWithdrawalNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading withdrawal: %w", err)
	}
	if err := authorizeTenant(actor, w.TenantID); err != nil {
		return nil, err
	}
	return w, nil
}

// authorizeTenant lets super-admins through and otherwise requires the
// resource to belong to the actor's tenant.
func authorizeTenant(actor models.Actor, tenantID *primitive.ObjectID) error {
	if !actor.IsAdmin() {
		return apperrors.Forbidden(msgWithdrawalForbidden)
	}
	if actor.IsSuperAdmin() {
		return nil
	}
	if actor.TenantID == nil || tenantID == nil || *actor.TenantID != *tenantID {
		return apperrors.Forbidden(msgWithdrawalForbidden)
	}
	return nil
}

func (s *WithdrawalService) respond(ctx context.Context, w *models.WithdrawalRequest, message string) *models.WithdrawalResponse {
	return &models.WithdrawalResponse{
		OK:         true,
		Message:    message,
		Withdrawal: s.view(ctx, w),
	}
}

func (s *WithdrawalService) view(ctx context.Context, w *models.WithdrawalRequest) *models.WithdrawalView {
	user, err := s.users.FindByID(ctx, w.UserID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			log.Ctx(ctx).Error().Err(err).Str("userId", w.UserID.Hex()).Msg("failed to load withdrawal owner")
		}
		return models.NewWithdrawalView(w, nil)
	}
	return models.NewWithdrawalView(w, user.Snapshot())
}

// WithdrawalList is one page of the admin listing.
type WithdrawalList struct {
	OK          bool                     `json:"ok"`
	Withdrawals []*models.WithdrawalView `json:"withdrawals"`
	Pagination  models.Pagination        `json:"pagination"`
	Stats       *models.WithdrawalStats  `json:"stats"`
}

// List returns a page of withdrawals visible to actor plus summary stats.
func (s *WithdrawalService) List(ctx context.Context, actor models.Actor, filter models.WithdrawalFilter) (*WithdrawalList, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden(msgWithdrawalForbidden)
	}
	if !actor.IsSuperAdmin() {
		if actor.TenantID == nil {
			return nil, apperrors.Forbidden(msgWithdrawalForbidden)
		}
		filter.TenantID = actor.TenantID
	}
	if !filter.Status.IsValid() {
		filter.Status = ""
	}
	filter.Page, filter.Limit = repositories.NormalizePage(filter.Page, filter.Limit)

	items, total, err := s.withdrawals.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals: %w", err)
	}

	seen := make(map[primitive.ObjectID]bool, len(items))
	var userIDs []primitive.ObjectID
	for _, item := range items {
		if !seen[item.UserID] {
			seen[item.UserID] = true
			userIDs = append(userIDs, item.UserID)
		}
	}
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("loading withdrawal owners: %w", err)
	}

	views := make([]*models.WithdrawalView, 0, len(items))
	for i := range items {
		var snapshot *models.UserSnapshot
		if user, ok := users[items[i].UserID]; ok {
			snapshot = user.Snapshot()
		}
		views = append(views, models.NewWithdrawalView(&items[i], snapshot))
	}

	stats, err := s.withdrawals.Stats(ctx, filter.TenantID, monthStart(s.now()))
	if err != nil {
		return nil, fmt.Errorf("computing withdrawal stats: %w", err)
	}

	return &WithdrawalList{
		OK:          true,
		Withdrawals: views,
		Pagination: models.Pagination{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
			Pages: int64(math.Ceil(float64(total) / float64(filter.Limit))),
		},
		Stats: stats,
	}, nil
}

type WithdrawalInput struct {
	Amount         float64
	Notes          string
	PaymentDetails *models.PaymentDetails
}

type WithdrawalReceipt struct {
	OK        bool                    `json:"ok"`
	RequestID string                  `json:"requestId"`
	Amount    float64                 `json:"amount"`
	Status    models.WithdrawalStatus `json:"status"`
}

// Request opens a withdrawal for the calling agent. The request document is
// inserted first so the one-open-request index admits a single caller; the
// agent's balance is then synced to the commission of their claimable orders
// and the amount is moved from balance to hold.
func (s *WithdrawalService) Request(ctx context.Context, actor models.Actor, in WithdrawalInput) (*WithdrawalReceipt, error) {
	if in.Amount <= 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return nil, apperrors.Validation(msgInvalidAmount)
	}
	if in.Amount < s.minAmount {
		return nil, apperrors.Validation(fmt.Sprintf(msgBelowMinimum, formatAmount(s.minAmount)))
	}

	var w *models.WithdrawalRequest
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		open, err := s.withdrawals.FindOpenByUser(ctx, actor.ID)
		if err == nil {
			return openRequestConflict(open)
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("checking open requests: %w", err)
		}

		user, err := s.users.FindByID(ctx, actor.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			return apperrors.NotFound(msgUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading agent: %w", err)
		}

		orders, err := s.orders.FindClaimable(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("loading claimable orders: %w", err)
		}
		available := SumCommission(orders)
		requested := decimal.NewFromFloat(in.Amount)
		if requested.GreaterThan(available) {
			return apperrors.Validation(msgInsufficientBalance).WithFields(map[string]interface{}{
				"balance":   available.InexactFloat64(),
				"requested": in.Amount,
			})
		}

		now := s.now()
		w = &models.WithdrawalRequest{
			ID:              primitive.NewObjectID(),
			UserID:          user.ID,
			TenantID:        user.TenantID,
			Amount:          in.Amount,
			Status:          models.WithdrawalPending,
			Notes:           in.Notes,
			PaymentDetails:  in.PaymentDetails,
			SnapshotBalance: available.Sub(requested).InexactFloat64(),
			SnapshotOnHold:  decimal.NewFromFloat(user.CommissionOnHold).Add(requested).InexactFloat64(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.withdrawals.Create(ctx, w); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return s.lostOpenRequestRace(ctx, actor.ID)
			}
			return fmt.Errorf("creating withdrawal: %w", err)
		}

		if err := s.lockFunds(ctx, user, available, w); err != nil {
			s.discardRequest(ctx, w)
			return err
		}
		return nil
	})
	s.metrics.ObserveTransition("request", err)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("userId", actor.ID.Hex()).
		Str("withdrawalId", w.ID.Hex()).
		Float64("amount", w.Amount).
		Msg("withdrawal requested")

	return &WithdrawalReceipt{
		OK:        true,
		RequestID: w.ID.Hex(),
		Amount:    w.Amount,
		Status:    w.Status,
	}, nil
}

// lockFunds syncs the balance read in user to available, then moves the
// requested amount to hold.
func (s *WithdrawalService) lockFunds(ctx context.Context, user *models.User, available decimal.Decimal, w *models.WithdrawalRequest) error {
	withdrawalID := w.ID
	if !available.Equal(decimal.NewFromFloat(user.CommissionBalance)) {
		if _, err := s.ledger.SyncBalance(ctx, user.ID, user.CommissionBalance, available.InexactFloat64(), &withdrawalID); err != nil {
			return err
		}
	}

	_, err := s.ledger.ApplyDelta(ctx, models.LedgerDelta{
		UserID:         user.ID,
		BalanceDelta:   -w.Amount,
		HoldDelta:      w.Amount,
		Reason:         models.LedgerReasonWithdrawalRequested,
		WithdrawalID:   &withdrawalID,
		RequireBalance: true,
	})
	return err
}

// discardRequest removes a request whose funds could not be locked. Inside a
// real transaction the abort already does that.
func (s *WithdrawalService) discardRequest(ctx context.Context, w *models.WithdrawalRequest) {
	if s.tx.Transactional() {
		return
	}
	if _, err := s.withdrawals.DeleteInStatus(ctx, w.ID, models.WithdrawalPending); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("withdrawalId", w.ID.Hex()).Msg("failed to discard unfunded withdrawal request")
	}
}

// lostOpenRequestRace reports the request that won the unique index.
func (s *WithdrawalService) lostOpenRequestRace(ctx context.Context, userID primitive.ObjectID) error {
	open, err := s.withdrawals.FindOpenByUser(ctx, userID)
	if err != nil {
		return apperrors.Conflict(msgOpenRequestExists)
	}
	return openRequestConflict(open)
}

func openRequestConflict(open *models.WithdrawalRequest) error {
	return apperrors.Conflict(msgOpenRequestExists).WithFields(map[string]interface{}{
		"requestId": open.ID.Hex(),
		"status":    open.Status,
	})
}

// ListMine returns the caller's own requests, newest first.
func (s *WithdrawalService) ListMine(ctx context.Context, actor models.Actor) ([]models.AgentWithdrawalView, error) {
	requests, err := s.withdrawals.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals: %w", err)
	}
	views := make([]models.AgentWithdrawalView, 0, len(requests))
	for i := range requests {
		views = append(views, models.NewAgentWithdrawalView(&requests[i]))
	}
	return views, nil
}

func parseWithdrawalID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperrors.Validation(msgInvalidWithdrawalID)
	}
	return id, nil
}

func formatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).String()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
