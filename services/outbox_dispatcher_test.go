package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type scriptedDeliverer struct {
	errs      []error
	delivered []models.NotificationEvent
}

func (d *scriptedDeliverer) Deliver(_ context.Context, event models.NotificationEvent) error {
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	if err == nil {
		d.delivered = append(d.delivered, event)
	}
	return err
}

func newTestDispatcher(outbox *fakeOutbox, deliverer EventDeliverer, maxAttempts int) *OutboxDispatcher {
	d := NewOutboxDispatcher(outbox, deliverer, config.OutboxConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
		MaxAttempts:  maxAttempts,
		LockTimeout:  time.Minute,
	})
	d.now = func() time.Time { return fixedNow }
	return d
}

func enqueueN(t *testing.T, outbox *fakeOutbox, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := outbox.Enqueue(context.Background(), models.NotificationEvent{
			TemplateType:    models.TemplateWithdrawalApproved,
			AudienceUserIDs: []primitive.ObjectID{primitive.NewObjectID()},
		})
		require.NoError(t, err)
	}
}

func TestDispatchDue_MarksDeliveredEventsSent(t *testing.T) {
	outbox := newFakeOutbox()
	enqueueN(t, outbox, 3)
	deliverer := &scriptedDeliverer{}

	processed, err := newTestDispatcher(outbox, deliverer, 5).DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.Len(t, outbox.sent, 3)
	assert.Len(t, deliverer.delivered, 3)

	processed, err = newTestDispatcher(outbox, deliverer, 5).DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestDispatchDue_ReschedulesWithBackoff(t *testing.T) {
	outbox := newFakeOutbox()
	enqueueN(t, outbox, 1)
	d := newTestDispatcher(outbox, &scriptedDeliverer{errs: []error{errors.New("fcm down")}}, 5)

	_, err := d.DispatchDue(context.Background())
	require.NoError(t, err)

	event := outbox.events[0]
	assert.Equal(t, models.OutboxPending, event.Status)
	assert.Equal(t, "fcm down", event.LastError)
	assert.Equal(t, fixedNow.Add(10*time.Second), outbox.rescheduled[event.ID])
	assert.Empty(t, outbox.sent)
}

func TestDispatchDue_FailsAfterMaxAttempts(t *testing.T) {
	outbox := newFakeOutbox()
	enqueueN(t, outbox, 1)
	outbox.events[0].Attempts = 2
	d := newTestDispatcher(outbox, &scriptedDeliverer{errs: []error{errors.New("still down")}}, 3)

	_, err := d.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutboxFailed, outbox.events[0].Status)
	assert.Len(t, outbox.failed, 1)
}

func TestDispatchDue_RespectsBatchSize(t *testing.T) {
	outbox := newFakeOutbox()
	enqueueN(t, outbox, 15)

	processed, err := newTestDispatcher(outbox, &scriptedDeliverer{}, 5).DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, processed)
	assert.Len(t, outbox.sent, 10)
}

func TestBackoff(t *testing.T) {
	d := newTestDispatcher(newFakeOutbox(), &scriptedDeliverer{}, 5)

	assert.Equal(t, 10*time.Second, d.backoff(0))
	assert.Equal(t, 10*time.Second, d.backoff(1))
	assert.Equal(t, 20*time.Second, d.backoff(2))
	assert.Equal(t, 80*time.Second, d.backoff(4))
	assert.Equal(t, time.Hour, d.backoff(20))
}

func TestRun_StopsOnCancel(t *testing.T) {
	outbox := newFakeOutbox()
	enqueueN(t, outbox, 2)
	d := newTestDispatcher(outbox, &scriptedDeliverer{}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return len(outbox.sent) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
