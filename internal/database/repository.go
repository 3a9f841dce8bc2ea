package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// Repository is the gorm-backed store for the workflow engine. Every commit
// writes the application row, its new history events, the audit entries and
// the notification outbox rows in one transaction.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ workflow.Repository = (*Repository)(nil)

func (r *Repository) Get(ctx context.Context, id string) (*workflow.Application, error) {
	var rec ApplicationRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	var events []DecisionEvent
	if err := r.db.WithContext(ctx).Where("application_id = ?", id).Order("seq ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load decision history: %w", err)
	}
	return toApplication(rec, events)
}

func (r *Repository) Commit(ctx context.Context, c workflow.Commit) error {
	app := c.Application
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := fromApplication(app)
		if c.ExpectedVersion == 0 {
			if err := tx.Create(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return &workflow.ConflictError{ApplicationID: app.ID}
				}
				return fmt.Errorf("failed to insert application: %w", err)
			}
		} else {
			res := tx.Model(&ApplicationRecord{}).
				Where("id = ? AND version = ?", app.ID, c.ExpectedVersion).
				Updates(map[string]interface{}{
					"family_circumstance":       rec.FamilyCircumstance,
					"activity":                  rec.Activity,
					"legal_form":                rec.LegalForm,
					"revenues":                  rec.Revenues,
					"charges":                   rec.Charges,
					"debt":                      rec.Debt,
					"guarantee_estimated_value": rec.GuaranteeEstimatedValue,
					"amount_asked":              rec.AmountAsked,
					"is_renewal":                rec.IsRenewal,
					"current_decision":          rec.CurrentDecision,
					"current_score":             rec.CurrentScore,
					"version":                   rec.Version,
					"updated_at":                rec.UpdatedAt,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to update application: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return r.conflict(tx, app.ID, c.ExpectedVersion)
			}
		}

		if len(c.Events) > 0 {
			rows := make([]DecisionEvent, 0, len(c.Events))
			outbox := make([]NotificationOutbox, 0, len(c.Events))
			for _, ev := range c.Events {
				row, err := fromEvent(ev)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				msg, err := r.outboxFor(TopicDecisionEvent, ev.ApplicationID, ev.ID, string(ev.Kind), ev)
				if err != nil {
					return err
				}
				outbox = append(outbox, msg)
			}
			if err := tx.Create(&rows).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return &workflow.ConflictError{ApplicationID: app.ID, ExpectedVersion: c.ExpectedVersion}
				}
				return fmt.Errorf("failed to append decision events: %w", err)
			}
			if err := tx.Create(&outbox).Error; err != nil {
				return fmt.Errorf("failed to enqueue notifications: %w", err)
			}
		}
		return insertAudit(tx, c.Audit)
	})
}

func (r *Repository) conflict(tx *gorm.DB, id string, expected int64) error {
	var current ApplicationRecord
	err := tx.Select("id", "version").First(&current, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read current version: %w", err)
	}
	return &workflow.ConflictError{ApplicationID: id, ExpectedVersion: expected, ActualVersion: current.Version}
}

func (r *Repository) AddContestation(ctx context.Context, c workflow.Contestation, audit workflow.AuditRecord) error {
	rec, err := fromContestation(c)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ApplicationRecord{}).Where("id = ?", c.ApplicationID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check application: %w", err)
		}
		if count == 0 {
			return workflow.ErrNotFound
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to insert contestation: %w", err)
		}
		msg, err := r.outboxFor(TopicContestation, c.ApplicationID, c.ID, string(workflow.EventContestation), c)
		if err != nil {
			return err
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
		return insertAudit(tx, []workflow.AuditRecord{audit})
	})
}

func (r *Repository) ListContestations(ctx context.Context, applicationID string) ([]workflow.Contestation, error) {
	var recs []ContestationRecord
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list contestations: %w", err)
	}
	return toContestations(recs)
}

// ContestationQueue lists contestations by status across all applications, oldest first.
func (r *Repository) ContestationQueue(ctx context.Context, status workflow.ContestationStatus, limit, offset int) ([]workflow.Contestation, int64, error) {
	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&ContestationRecord{})
		if status != "" {
			q = q.Where("status = ?", string(status))
		}
		return q
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contestations: %w", err)
	}
	var recs []ContestationRecord
	if err := query().Order("created_at ASC, id ASC").Limit(limit).Offset(offset).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list contestations: %w", err)
	}
	out, err := toContestations(recs)
	return out, total, err
}

// ApplicationFilter narrows ListApplications.
type ApplicationFilter struct {
	Decision    workflow.Decision
	SubmittedBy string
}

// ListApplications returns application rows without their histories,
// newest first. The cached decision columns are enough for a listing.
func (r *Repository) ListApplications(ctx context.Context, f ApplicationFilter, limit, offset int) ([]ApplicationRecord, int64, error) {
	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&ApplicationRecord{})
		if f.Decision != "" {
			q = q.Where("current_decision = ?", string(f.Decision))
		}
		if f.SubmittedBy != "" {
			q = q.Where("submitted_by = ?", f.SubmittedBy)
		}
		return q
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count applications: %w", err)
	}
	var recs []ApplicationRecord
	if err := query().Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list applications: %w", err)
	}
	return recs, total, nil
}

// AuditFilter narrows ListAudit. Empty fields match everything.
type AuditFilter struct {
	ApplicationID string
	ActorID       string
}

// ListAudit returns audit entries in commit order.
func (r *Repository) ListAudit(ctx context.Context, f AuditFilter, limit, offset int) ([]AuditEntry, int64, error) {
	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&AuditEntry{})
		if f.ApplicationID != "" {
			q = q.Where("application_id = ?", f.ApplicationID)
		}
		if f.ActorID != "" {
			q = q.Where("actor_id = ?", f.ActorID)
		}
		return q
	}
	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	var entries []AuditEntry
	if err := query().Order("id ASC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, total, nil
}

func (r *Repository) outboxFor(topic, appID, refID, kind string, payload interface{}) (NotificationOutbox, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return NotificationOutbox{}, fmt.Errorf("failed to encode notification: %w", err)
	}
	return NotificationOutbox{
		Topic:         topic,
		ApplicationID: appID,
		RefID:         refID,
		Kind:          kind,
		Payload:       raw,
		Status:        OutboxPending,
		NextAttemptAt: r.now(),
	}, nil
}

func insertAudit(tx *gorm.DB, records []workflow.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	entries := make([]AuditEntry, 0, len(records))
	for _, a := range records {
		entries = append(entries, AuditEntry{
			ApplicationID: a.ApplicationID,
			EventID:       a.EventID,
			ActorID:       a.ActorID,
			ActorRole:     a.ActorRole,
			Action:        string(a.Action),
			Justification: a.Justification,
			Timestamp:     a.Timestamp,
			Details:       JSONB(a.Details),
		})
	}
	if err := tx.Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to write audit entries: %w", err)
	}
	return nil
}
