package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"github.com/vipogroup/vipo_backend/repositories"
)

const (
	defaultOutboxBatchSize   = 20
	defaultOutboxMaxAttempts = 5
	defaultOutboxPoll        = 5 * time.Second
	maxOutboxBackoff         = time.Hour
)

// EventDeliverer delivers one notification event.
type EventDeliverer interface {
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// OutboxDispatcher drains the notification outbox in the background.
type OutboxDispatcher struct {
	outbox       OutboxStore
	deliverer    EventDeliverer
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	lockTimeout  time.Duration
	now          func() time.Time
}

func NewOutboxDispatcher(outbox OutboxStore, deliverer EventDeliverer, cfg config.OutboxConfig) *OutboxDispatcher {
	d := &OutboxDispatcher{
		outbox:       outbox,
		deliverer:    deliverer,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
		lockTimeout:  cfg.LockTimeout,
		now:          time.Now,
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultOutboxBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultOutboxMaxAttempts
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultOutboxPoll
	}
	if d.lockTimeout <= 0 {
		d.lockTimeout = 2 * time.Minute
	}
	return d
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; otherwise the dispatcher sleeps for the poll interval.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	log.Info().Dur("interval", d.pollInterval).Msg("notification outbox dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notification outbox dispatcher stopped")
			return ctx.Err()
		default:
		}

		processed, err := d.DispatchDue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox dispatch batch failed")
		}
		if processed >= d.batchSize {
			continue
		}

		timer := time.NewTimer(d.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("notification outbox dispatcher stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// DispatchDue delivers up to one batch of due events and returns how many
// were claimed.
func (d *OutboxDispatcher) DispatchDue(ctx context.Context) (int, error) {
	processed := 0
	for processed < d.batchSize {
		event, err := d.outbox.ClaimDue(ctx, d.now(), d.lockTimeout)
		if errors.Is(err, repositories.ErrNotFound) {
			return processed, nil
		}
		if err != nil {
			return processed, err
		}
		processed++

		if err := d.handle(ctx, event); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

func (d *OutboxDispatcher) handle(ctx context.Context, event *models.OutboxEvent) error {
	logger := log.With().
		Str("eventId", event.EventID).
		Str("template", event.Event.TemplateType).
		Int("attempt", event.Attempts).
		Logger()

	deliverErr := d.deliverer.Deliver(ctx, event.Event)
	if deliverErr == nil {
		logger.Debug().Msg("outbox event delivered")
		return d.outbox.MarkSent(ctx, event.ID, d.now())
	}

	if event.Attempts >= d.maxAttempts {
		logger.Error().Err(deliverErr).Msg("outbox event failed permanently")
		return d.outbox.MarkFailed(ctx, event.ID, deliverErr.Error())
	}

	next := d.now().Add(d.backoff(event.Attempts))
	logger.Warn().Err(deliverErr).Time("nextAttemptAt", next).Msg("outbox event delivery failed, rescheduling")
	return d.outbox.Reschedule(ctx, event.ID, next, deliverErr.Error())
}

// backoff doubles the poll interval per failed attempt.
func (d *OutboxDispatcher) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := d.pollInterval
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	return delay
}
