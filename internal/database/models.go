package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a JSON object column (jsonb on PostgreSQL, text on SQLite).
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = make(map[string]interface{})
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("JSONB: unsupported column type")
	}
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONRaw holds an already-encoded JSON document, used for typed payloads
// that are decoded back into domain structs.
type JSONRaw []byte

func (j *JSONRaw) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONRaw(v)
	default:
		return errors.New("JSONRaw: unsupported column type")
	}
	return nil
}

func (j JSONRaw) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// ApplicationRecord is one credit application. The decision history in
// decision_events is authoritative; CurrentDecision and CurrentScore are a
// cache kept in step by the repository for listing and analytics.
type ApplicationRecord struct {
	ID                      string    `gorm:"primaryKey;size:64" json:"id"`
	SubmittedBy             string    `gorm:"size:255;not null;index" json:"submitted_by"`
	FamilyCircumstance      string    `gorm:"size:64;not null" json:"family_circumstance"`
	Activity                string    `gorm:"size:64;not null" json:"activity"`
	LegalForm               string    `gorm:"size:64;not null" json:"legal_form"`
	Revenues                float64   `gorm:"not null" json:"revenues"`
	Charges                 float64   `gorm:"not null" json:"charges"`
	Debt                    float64   `gorm:"not null" json:"debt"`
	GuaranteeEstimatedValue float64   `gorm:"not null" json:"guarantee_estimated_value"`
	AmountAsked             float64   `gorm:"not null" json:"amount_asked"`
	IsRenewal               int       `gorm:"not null;default:0" json:"is_renewal"`
	CurrentDecision         string    `gorm:"size:32;not null;index" json:"current_decision"`
	CurrentScore            float64   `gorm:"not null" json:"current_score"`
	Version                 int64     `gorm:"not null" json:"version"`
	CreatedAt               time.Time `gorm:"index" json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func (ApplicationRecord) TableName() string {
	return "applications"
}

// DecisionEvent is one append-only history row. Payload carries the
// kind-specific fields as JSON.
type DecisionEvent struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	ApplicationID string    `gorm:"size:64;not null;uniqueIndex:idx_decision_events_app_seq,priority:1" json:"application_id"`
	Seq           int       `gorm:"not null;uniqueIndex:idx_decision_events_app_seq,priority:2" json:"seq"`
	Kind          string    `gorm:"size:32;not null;index" json:"kind"`
	ActorID       string    `gorm:"size:255;not null" json:"actor_id"`
	ActorRole     string    `gorm:"size:64;not null" json:"actor_role"`
	Justification string    `gorm:"type:text" json:"justification"`
	Timestamp     time.Time `gorm:"not null" json:"timestamp"`
	PriorDecision string    `gorm:"size:32" json:"prior_decision"`
	PriorScore    float64   `json:"prior_score"`
	Decision      string    `gorm:"size:32;not null" json:"decision"`
	Score         float64   `gorm:"not null" json:"score"`
	Payload       JSONRaw   `gorm:"type:text" json:"payload"`
}

func (DecisionEvent) TableName() string {
	return "decision_events"
}

// ContestationRecord is an entry of the pending-review queue.
type ContestationRecord struct {
	ID                      string    `gorm:"primaryKey;size:64" json:"id"`
	ApplicationID           string    `gorm:"size:64;not null;index" json:"application_id"`
	ActorID                 string    `gorm:"size:255;not null" json:"actor_id"`
	ActorRole               string    `gorm:"size:64;not null" json:"actor_role"`
	ReasonCode              string    `gorm:"size:64;not null" json:"reason_code"`
	Justification           string    `gorm:"type:text;not null" json:"justification"`
	ProposedScoreAdjustment *int      `json:"proposed_score_adjustment"`
	Evidence                JSONRaw   `gorm:"type:text" json:"evidence"`
	Status                  string    `gorm:"size:32;not null;index" json:"status"`
	DecisionAtFiling        string    `gorm:"size:32;not null" json:"decision_at_filing"`
	ScoreAtFiling           float64   `json:"score_at_filing"`
	CreatedAt               time.Time `gorm:"index" json:"created_at"`
}

func (ContestationRecord) TableName() string {
	return "contestations"
}

// AuditEntry is the durable audit sink row written with every committed event.
type AuditEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ApplicationID string    `gorm:"size:64;not null;index" json:"application_id"`
	EventID       string    `gorm:"size:64;not null" json:"event_id"`
	ActorID       string    `gorm:"size:255;not null;index" json:"actor_id"`
	ActorRole     string    `gorm:"size:64" json:"actor_role"`
	Action        string    `gorm:"size:32;not null" json:"action"`
	Justification string    `gorm:"type:text" json:"justification"`
	Timestamp     time.Time `gorm:"not null;index" json:"timestamp"`
	Details       JSONB     `gorm:"type:text" json:"details"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

// User is a local account. Role must exist in the active policy.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:255;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         string    `gorm:"size:64;not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// OutboxStatus tracks delivery of a notification.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Outbox topics.
const (
	TopicDecisionEvent = "decision_event"
	TopicContestation  = "contestation"
)

// NotificationOutbox is written in the same transaction as the change it
// announces, and drained by the outbox dispatcher.
type NotificationOutbox struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	Topic         string       `gorm:"size:32;not null" json:"topic"`
	ApplicationID string       `gorm:"size:64;not null;index" json:"application_id"`
	RefID         string       `gorm:"size:64;not null" json:"ref_id"`
	Kind          string       `gorm:"size:32;not null" json:"kind"`
	Payload       JSONRaw      `gorm:"type:text;not null" json:"payload"`
	Status        OutboxStatus `gorm:"size:16;not null;index:idx_outbox_due,priority:1" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time    `gorm:"not null;index:idx_outbox_due,priority:2" json:"next_attempt_at"`
	LastError     string       `gorm:"type:text" json:"last_error,omitempty"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (NotificationOutbox) TableName() string {
	return "notification_outbox"
}
