package workflow

import (
	"fmt"
	"time"
)

// Event is one immutable entry of an application's decision history.
// Kind selects which payload is set; the others stay nil.
type Event struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	Seq           int       `json:"seq"`
	Kind          EventKind `json:"kind"`
	ActorID       string    `json:"actor_id"`
	ActorRole     string    `json:"actor_role"`
	Justification string    `json:"justification,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	PriorDecision Decision `json:"prior_decision,omitempty"`
	PriorScore    float64  `json:"prior_score"`
	Decision      Decision `json:"decision"`
	Score         float64  `json:"score"`

	AutoScore  *AutoScorePayload  `json:"auto_score,omitempty"`
	Override   *OverridePayload   `json:"override,omitempty"`
	Correction *CorrectionPayload `json:"correction,omitempty"`
}

// AutoScorePayload carries the oracle output behind an automatic decision.
type AutoScorePayload struct {
	Probability     float64     `json:"probability"`
	Confidence      Confidence  `json:"confidence"`
	ShapValues      []ShapValue `json:"shap_values,omitempty"`
	RiskFactors     []string    `json:"risk_factors,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// OverridePayload carries an agent's manual decision.
type OverridePayload struct {
	Action     OverrideAction `json:"action"`
	ReasonCode string         `json:"reason_code"`
}

// CorrectionPayload carries the full replacement data and the changed fields only.
type CorrectionPayload struct {
	Data    ApplicantData          `json:"data"`
	Changes map[string]FieldChange `json:"changes"`
}

// Check verifies that the payload matches the kind.
func (e Event) Check() error {
	if !e.Decision.Valid() {
		return fmt.Errorf("event %s: invalid decision %q", e.ID, e.Decision)
	}
	set := 0
	for _, p := range []bool{e.AutoScore != nil, e.Override != nil, e.Correction != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("event %s: expected exactly one payload, found %d", e.ID, set)
	}
	switch e.Kind {
	case EventAutoScore:
		if e.AutoScore == nil {
			return fmt.Errorf("event %s: AUTO_SCORE without score payload", e.ID)
		}
	case EventManualOverride:
		if e.Override == nil {
			return fmt.Errorf("event %s: MANUAL_OVERRIDE without override payload", e.ID)
		}
	case EventDataCorrection:
		if e.Correction == nil {
			return fmt.Errorf("event %s: DATA_CORRECTION without correction payload", e.ID)
		}
	default:
		return fmt.Errorf("event %s: kind %q cannot appear in decision history", e.ID, e.Kind)
	}
	if e.Kind != EventAutoScore && e.Justification == "" {
		return fmt.Errorf("event %s: %s requires a justification", e.ID, e.Kind)
	}
	return nil
}

// ContestationStatus tracks a contestation in the review queue.
type ContestationStatus string

// Contestations are recorded and queued; nothing resolves them yet.
const ContestationPending ContestationStatus = "pending"

// Contestation asks a higher-privileged actor to reconsider a decision.
// It never changes the application's decision by itself.
type Contestation struct {
	ID                      string             `json:"id"`
	ApplicationID           string             `json:"application_id"`
	ActorID                 string             `json:"actor_id"`
	ActorRole               string             `json:"actor_role"`
	ReasonCode              string             `json:"reason_code"`
	Justification           string             `json:"justification"`
	ProposedScoreAdjustment *int               `json:"proposed_score_adjustment,omitempty"`
	Evidence                []string           `json:"evidence,omitempty"`
	Status                  ContestationStatus `json:"status"`
	DecisionAtFiling        Decision           `json:"decision_at_filing"`
	ScoreAtFiling           float64            `json:"score_at_filing"`
	CreatedAt               time.Time          `json:"created_at"`
}

// AuditRecord is what the audit sink stores for every committed event.
type AuditRecord struct {
	ApplicationID string                 `json:"application_id"`
	EventID       string                 `json:"event_id"`
	ActorID       string                 `json:"actor_id"`
	ActorRole     string                 `json:"actor_role"`
	Action        EventKind              `json:"action"`
	Justification string                 `json:"justification,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

func auditForEvent(e Event) AuditRecord {
	details := map[string]interface{}{
		"seq":            e.Seq,
		"decision":       string(e.Decision),
		"score":          e.Score,
		"prior_decision": string(e.PriorDecision),
		"prior_score":    e.PriorScore,
	}
	switch {
	case e.AutoScore != nil:
		details["probability"] = e.AutoScore.Probability
		details["confidence"] = string(e.AutoScore.Confidence)
	case e.Override != nil:
		details["override_action"] = string(e.Override.Action)
		details["reason_code"] = e.Override.ReasonCode
	case e.Correction != nil:
		changes := make(map[string]interface{}, len(e.Correction.Changes))
		for k, v := range e.Correction.Changes {
			changes[k] = map[string]interface{}{"from": v.From, "to": v.To}
		}
		details["changes"] = changes
	}
	return AuditRecord{
		ApplicationID: e.ApplicationID,
		EventID:       e.ID,
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Action:        e.Kind,
		Justification: e.Justification,
		Timestamp:     e.Timestamp,
		Details:       details,
	}
}

func auditForContestation(c Contestation) AuditRecord {
	details := map[string]interface{}{
		"reason_code":        c.ReasonCode,
		"decision_at_filing": string(c.DecisionAtFiling),
		"score_at_filing":    c.ScoreAtFiling,
	}
	if c.ProposedScoreAdjustment != nil {
		details["proposed_score_adjustment"] = *c.ProposedScoreAdjustment
	}
	if len(c.Evidence) > 0 {
		details["evidence"] = c.Evidence
	}
	return AuditRecord{
		ApplicationID: c.ApplicationID,
		EventID:       c.ID,
		ActorID:       c.ActorID,
		ActorRole:     c.ActorRole,
		Action:        EventContestation,
		Justification: c.Justification,
		Timestamp:     c.CreatedAt,
		Details:       details,
	}
}
