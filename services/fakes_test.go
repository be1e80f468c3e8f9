package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vipogroup/vipo_backend/models"
	"github.com/vipogroup/vipo_backend/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeWithdrawals struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]*models.WithdrawalRequest

	lastFilter models.WithdrawalFilter
	statsFor   *primitive.ObjectID
	// afterFindOpen runs outside the lock once FindOpenByUser has answered
	afterFindOpen func()
}

func newFakeWithdrawals(items ...*models.WithdrawalRequest) *fakeWithdrawals {
	f := &fakeWithdrawals{items: map[primitive.ObjectID]*models.WithdrawalRequest{}}
	for _, w := range items {
		f.items[w.ID] = w
	}
	return f
}

func (f *fakeWithdrawals) get(id primitive.ObjectID) *models.WithdrawalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}

func (f *fakeWithdrawals) Create(_ context.Context, w *models.WithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.ID.IsZero() {
		w.ID = primitive.NewObjectID()
	}
	if w.Status.IsOpen() {
		for _, existing := range f.items {
			if existing.UserID == w.UserID && existing.Status.IsOpen() {
				return repositories.ErrDuplicate
			}
		}
	}
	cp := *w
	f.items[w.ID] = &cp
	return nil
}

func (f *fakeWithdrawals) FindByID(_ context.Context, id primitive.ObjectID) (*models.WithdrawalRequest, error) {
	if w := f.get(id); w != nil {
		return w, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeWithdrawals) FindOpenByUser(_ context.Context, userID primitive.ObjectID) (*models.WithdrawalRequest, error) {
	w, err := f.findOpen(userID)
	if f.afterFindOpen != nil {
		f.afterFindOpen()
	}
	return w, err
}

func (f *fakeWithdrawals) findOpen(userID primitive.ObjectID) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.items {
		if w.UserID == userID && w.Status.IsOpen() {
			cp := *w
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeWithdrawals) ListByUser(_ context.Context, userID primitive.ObjectID) ([]models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, w := range f.items {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeWithdrawals) TransitionStatus(_ context.Context, id primitive.ObjectID, from []models.WithdrawalStatus, to models.WithdrawalStatus, upd models.TransitionUpdate) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok || !containsStatus(from, w.Status) {
		return nil, repositories.ErrNotFound
	}
	processedBy := upd.ProcessedBy
	processedAt := upd.ProcessedAt
	w.Status = to
	w.AdminNotes = upd.AdminNotes
	w.ProcessedBy = &processedBy
	w.ProcessedAt = &processedAt
	w.UpdatedAt = processedAt
	cp := *w
	return &cp, nil
}

func (f *fakeWithdrawals) DeleteInStatus(_ context.Context, id primitive.ObjectID, status models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok || w.Status != status {
		return nil, repositories.ErrNotFound
	}
	delete(f.items, id)
	return w, nil
}

func (f *fakeWithdrawals) ReservePayout(_ context.Context, id primitive.ObjectID, now, staleBefore time.Time) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok || w.Status != models.WithdrawalApproved || w.PriorityPaymentDocID != "" {
		return nil, repositories.ErrNotFound
	}
	if w.PayoutLockedAt != nil && !w.PayoutLockedAt.Before(staleBefore) {
		return nil, repositories.ErrNotFound
	}
	lockedAt := now
	w.PayoutLockedAt = &lockedAt
	cp := *w
	return &cp, nil
}

func (f *fakeWithdrawals) ReleasePayout(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.items[id]; ok {
		w.PayoutLockedAt = nil
	}
	return nil
}

func (f *fakeWithdrawals) SetPriorityPayment(_ context.Context, id primitive.ObjectID, paymentDocID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	w.PriorityPaymentDocID = paymentDocID
	return nil
}

func (f *fakeWithdrawals) SetClaims(_ context.Context, id primitive.ObjectID, orderIDs []primitive.ObjectID, total float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	w.ClaimedOrderIDs = orderIDs
	w.ClaimedTotal = total
	return nil
}

func (f *fakeWithdrawals) List(_ context.Context, filter models.WithdrawalFilter) ([]models.WithdrawalRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	var out []models.WithdrawalRequest
	for _, w := range f.items {
		if filter.TenantID != nil && (w.TenantID == nil || *w.TenantID != *filter.TenantID) {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, *w)
	}
	return out, int64(len(out)), nil
}

func (f *fakeWithdrawals) Stats(_ context.Context, tenantID *primitive.ObjectID, _ time.Time) (*models.WithdrawalStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsFor = tenantID
	stats := &models.WithdrawalStats{}
	for _, w := range f.items {
		if w.Status == models.WithdrawalPending {
			stats.PendingCount++
			stats.PendingAmount += w.Amount
		}
	}
	return stats, nil
}

func containsStatus(list []models.WithdrawalStatus, s models.WithdrawalStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeUsers struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]*models.User

	supplierIDs map[primitive.ObjectID]string
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{
		items:       map[primitive.ObjectID]*models.User{},
		supplierIDs: map[primitive.ObjectID]string{},
	}
	for _, u := range users {
		f.items[u.ID] = u
	}
	return f
}

func (f *fakeUsers) balances(id primitive.ObjectID) (float64, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.items[id]
	return u.CommissionBalance, u.CommissionOnHold
}

func (f *fakeUsers) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) FindByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[primitive.ObjectID]*models.User{}
	for _, id := range ids {
		if u, ok := f.items[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (f *fakeUsers) IncrementBalances(_ context.Context, id primitive.ObjectID, balanceDelta, holdDelta float64, minBalance *float64, now time.Time) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if minBalance != nil && u.CommissionBalance < *minBalance {
		return nil, repositories.ErrNotFound
	}
	u.CommissionBalance += balanceDelta
	u.CommissionOnHold += holdDelta
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SetBalance(_ context.Context, id primitive.ObjectID, expected, target float64, now time.Time) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.items[id]
	if !ok || u.CommissionBalance != expected {
		return nil, repositories.ErrNotFound
	}
	u.CommissionBalance = target
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SetPrioritySupplierID(_ context.Context, id primitive.ObjectID, supplierID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.items[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.PrioritySupplierID = supplierID
	f.supplierIDs[id] = supplierID
	return nil
}

type fakeOrders struct {
	mu    sync.Mutex
	items []*models.Order
}

func (f *fakeOrders) FindClaimable(_ context.Context, agentID primitive.ObjectID) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.items {
		owned := (o.AgentID != nil && *o.AgentID == agentID) || (o.RefAgentID != nil && *o.RefAgentID == agentID)
		if !owned || o.CommissionAmount <= 0 {
			continue
		}
		if o.CommissionStatus == models.CommissionClaimed {
			continue
		}
		if !containsString(models.ClaimableOrderStatuses, o.Status) {
			continue
		}
		out = append(out, *o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeOrders) MarkClaimed(_ context.Context, orderIDs []primitive.ObjectID, withdrawalID primitive.ObjectID, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.items {
		for _, id := range orderIDs {
			if o.ID == id && o.CommissionStatus != models.CommissionClaimed {
				claimedAt := now
				by := withdrawalID
				o.CommissionStatus = models.CommissionClaimed
				o.ClaimedAt = &claimedAt
				o.ClaimedByWithdrawal = &by
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeOrders) claimed() []primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []primitive.ObjectID
	for _, o := range f.items {
		if o.CommissionStatus == models.CommissionClaimed {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeLedgerEntries struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
	err     error
}

func (f *fakeLedgerEntries) Insert(_ context.Context, entry *models.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLedgerEntries) ListByUser(_ context.Context, userID primitive.ObjectID, limit int64) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.LedgerEntry{}
	for i := len(f.entries) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeLedgerEntries) reasons() []models.LedgerReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LedgerReason
	for _, e := range f.entries {
		out = append(out, e.Reason)
	}
	return out
}

type fakeOutbox struct {
	mu         sync.Mutex
	events     []*models.OutboxEvent
	enqueueErr error

	sent        []primitive.ObjectID
	failed      []primitive.ObjectID
	rescheduled map[primitive.ObjectID]time.Time
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{rescheduled: map[primitive.ObjectID]time.Time{}}
}

func (f *fakeOutbox) Enqueue(_ context.Context, event models.NotificationEvent) (*models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	record := &models.OutboxEvent{
		ID:            primitive.NewObjectID(),
		EventID:       primitive.NewObjectID().Hex(),
		Event:         event,
		Status:        models.OutboxPending,
		NextAttemptAt: time.Time{},
	}
	f.events = append(f.events, record)
	return record, nil
}

func (f *fakeOutbox) ClaimDue(_ context.Context, now time.Time, lockFor time.Duration) (*models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Status == models.OutboxPending && !e.NextAttemptAt.After(now) {
			lockedUntil := now.Add(lockFor)
			e.Status = models.OutboxProcessing
			e.LockedUntil = &lockedUntil
			e.Attempts++
			cp := *e
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeOutbox) find(id primitive.ObjectID) *models.OutboxEvent {
	for _, e := range f.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id primitive.ObjectID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(id)
	e.Status = models.OutboxSent
	e.SentAt = &now
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) Reschedule(_ context.Context, id primitive.ObjectID, next time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(id)
	e.Status = models.OutboxPending
	e.NextAttemptAt = next
	e.LastError = lastErr
	f.rescheduled[id] = next
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id primitive.ObjectID, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.find(id)
	e.Status = models.OutboxFailed
	e.LastError = lastErr
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) templates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Event.TemplateType)
	}
	return out
}

type fakeTx struct {
	mu            sync.Mutex
	transactional bool
	calls         int
}

func (f *fakeTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeTx) Transactional() bool { return f.transactional }

type fakePayouts struct {
	mu         sync.Mutex
	configured bool
	result     *PayoutResult
	err        error
	calls      int
	inFlight   func()
}

func (f *fakePayouts) Configured() bool { return f.configured }

func (f *fakePayouts) ProcessWithdrawal(_ context.Context, _ *models.WithdrawalRequest, _ *models.User) (*PayoutResult, error) {
	if f.inFlight != nil {
		f.inFlight()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type published struct {
	userID      primitive.ObjectID
	messageType string
	data        interface{}
}

type fakeRealtime struct {
	mu        sync.Mutex
	connected map[primitive.ObjectID]bool
	messages  []published
}

func (f *fakeRealtime) Publish(userID primitive.ObjectID, messageType, _ string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected != nil && !f.connected[userID] {
		return errors.New("user not connected")
	}
	f.messages = append(f.messages, published{userID: userID, messageType: messageType, data: data})
	return nil
}

type fakeNotificationStore struct {
	mu            sync.Mutex
	saved         []models.Notification
	templates     map[string]*models.NotificationTemplate
	saveErr       error
	failFor       map[primitive.ObjectID]bool
	findTemplates int
}

func (f *fakeNotificationStore) Save(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.failFor[n.UserID] {
		return errors.New("write conflict")
	}
	f.saved = append(f.saved, *n)
	return nil
}

func (f *fakeNotificationStore) FindTemplate(_ context.Context, templateType string) (*models.NotificationTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findTemplates++
	return f.templates[templateType], nil
}
