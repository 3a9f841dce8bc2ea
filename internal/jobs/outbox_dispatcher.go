package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/utils"
)

const (
	defaultBatchSize   = 25
	defaultMaxAttempts = 8
)

// OutboxDispatcher delivers due notification_outbox rows to every configured
// notifier. A row is sent once all notifiers accept it; delivery is at least
// once, so a partial failure repeats the message for notifiers that already
// took it.
type OutboxDispatcher struct {
	store       *database.OutboxStore
	notifier    notify.Multi
	log         *logger.Logger
	now         func() time.Time
	batchSize   int
	maxAttempts int
}

func NewOutboxDispatcher(store *database.OutboxStore, notifiers []notify.Notifier, maxAttempts int, log *logger.Logger) *OutboxDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OutboxDispatcher{
		store:       store,
		notifier:    notify.Multi(notifiers),
		log:         log.With("service", "OutboxDispatcher"),
		now:         func() time.Time { return time.Now().UTC() },
		batchSize:   defaultBatchSize,
		maxAttempts: maxAttempts,
	}
}

// DispatchDue processes one batch of due rows and returns how many were
// settled (sent, rescheduled or failed). Each application has at most one
// row in a batch, so its notifications go out in commit order.
func (d *OutboxDispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.now()
	rows, err := d.store.Due(ctx, now, d.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := d.dispatch(ctx, row, now); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// dispatch only returns store errors; notifier failures are recorded on the row.
func (d *OutboxDispatcher) dispatch(ctx context.Context, row database.NotificationOutbox, now time.Time) error {
	msg := toMessage(row)
	if !json.Valid(msg.Payload) {
		d.log.Error("dropping notification with invalid payload", "id", row.ID, "ref_id", row.RefID)
		return d.store.MarkFailed(ctx, row.ID, row.Attempts+1, "invalid payload")
	}

	deliverErr := d.notifier.Notify(ctx, msg)
	if deliverErr == nil {
		return d.store.MarkSent(ctx, row.ID, now)
	}

	attempts := row.Attempts + 1
	if attempts >= d.maxAttempts {
		d.log.Error("giving up on notification", "id", row.ID, "ref_id", row.RefID, "attempts", attempts, "error", deliverErr)
		return d.store.MarkFailed(ctx, row.ID, attempts, deliverErr.Error())
	}
	delay := nextAttempt(row.Attempts)
	d.log.Warn("notification delivery failed, rescheduling", "id", row.ID, "ref_id", row.RefID, "attempts", attempts, "retry_in", utils.FormatDuration(delay), "error", deliverErr)
	next := now.Add(delay)
	return d.store.MarkRetry(ctx, row.ID, attempts, next, deliverErr.Error())
}

func toMessage(row database.NotificationOutbox) notify.Message {
	return notify.Message{
		Topic:         row.Topic,
		ApplicationID: row.ApplicationID,
		RefID:         row.RefID,
		Kind:          row.Kind,
		Payload:       json.RawMessage(row.Payload),
		CreatedAt:     row.CreatedAt,
	}
}

// nextAttempt returns 5s, 10s, 20s, ... capped at 5m.
func nextAttempt(attempts int) time.Duration {
	base := 5 * time.Second
	if attempts <= 0 {
		return base
	}
	if attempts > 16 {
		return 5 * time.Minute
	}
	d := base << attempts
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// Start polls for due rows until stop is closed.
func (d *OutboxDispatcher) Start(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := d.DispatchDue(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("outbox dispatch failed", "error", err)
			} else if n > 0 {
				d.log.Debug("outbox dispatched", "count", n)
			}
		case <-stop:
			d.log.Info("outbox dispatcher stopped")
			return
		}
	}
}
