package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// OutboxStore reads and updates notification_outbox rows.
type OutboxStore struct {
	db *gorm.DB
}

func NewOutboxStore(db *gorm.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Due returns pending rows whose next attempt is at or before now, oldest
// first. Only the oldest pending row of each application is eligible, so a
// rescheduled row holds back everything queued after it for that application
// until it is sent or given up on.
func (s *OutboxStore) Due(ctx context.Context, now time.Time, limit int) ([]NotificationOutbox, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []NotificationOutbox
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", OutboxPending, now.UTC()).
		Where(`NOT EXISTS (SELECT 1 FROM notification_outbox AS earlier
			WHERE earlier.application_id = notification_outbox.application_id
			AND earlier.status = ? AND earlier.id < notification_outbox.id)`, OutboxPending).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	return rows, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id uint, now time.Time) error {
	sentAt := now.UTC()
	return s.update(ctx, id, map[string]interface{}{
		"status":     OutboxSent,
		"sent_at":    &sentAt,
		"last_error": "",
		"updated_at": sentAt,
	})
}

// MarkRetry records a failed attempt and schedules the next one.
func (s *OutboxStore) MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return s.update(ctx, id, map[string]interface{}{
		"attempts":        attempts,
		"next_attempt_at": next.UTC(),
		"last_error":      lastErr,
		"updated_at":      time.Now().UTC(),
	})
}

// MarkFailed gives up on a row.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":     OutboxFailed,
		"attempts":   attempts,
		"last_error": lastErr,
		"updated_at": time.Now().UTC(),
	})
}

// Counts returns the number of rows per status.
func (s *OutboxStore) Counts(ctx context.Context) (map[OutboxStatus]int64, error) {
	var rows []struct {
		Status OutboxStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&NotificationOutbox{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	out := make(map[OutboxStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *OutboxStore) update(ctx context.Context, id uint, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&NotificationOutbox{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update notification %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}
