package database

import (
	"encoding/json"
	"fmt"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

func fromApplication(app *workflow.Application) ApplicationRecord {
	d := app.Data
	return ApplicationRecord{
		ID:                      app.ID,
		SubmittedBy:             app.SubmittedBy,
		FamilyCircumstance:      d.FamilyCircumstance,
		Activity:                d.Activity,
		LegalForm:               d.LegalForm,
		Revenues:                d.Revenues,
		Charges:                 d.Charges,
		Debt:                    d.Debt,
		GuaranteeEstimatedValue: d.GuaranteeEstimatedValue,
		AmountAsked:             d.AmountAsked,
		IsRenewal:               d.IsRenewal,
		CurrentDecision:         string(app.CurrentDecision()),
		CurrentScore:            app.CurrentScore(),
		Version:                 app.Version,
		CreatedAt:               app.CreatedAt,
		UpdatedAt:               app.UpdatedAt,
	}
}

// ApplicantData extracts the applicant snapshot from a row.
func (rec ApplicationRecord) ApplicantData() workflow.ApplicantData {
	return workflow.ApplicantData{
		FamilyCircumstance:      rec.FamilyCircumstance,
		Activity:                rec.Activity,
		LegalForm:               rec.LegalForm,
		Revenues:                rec.Revenues,
		Charges:                 rec.Charges,
		Debt:                    rec.Debt,
		GuaranteeEstimatedValue: rec.GuaranteeEstimatedValue,
		AmountAsked:             rec.AmountAsked,
		IsRenewal:               rec.IsRenewal,
	}
}

func toApplication(rec ApplicationRecord, rows []DecisionEvent) (*workflow.Application, error) {
	app := &workflow.Application{
		ID:          rec.ID,
		SubmittedBy: rec.SubmittedBy,
		Data:        rec.ApplicantData(),
		Version:     rec.Version,
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
		History:     make([]workflow.Event, 0, len(rows)),
	}
	for _, row := range rows {
		ev, err := toEvent(row)
		if err != nil {
			return nil, err
		}
		app.History = append(app.History, ev)
	}
	return app, nil
}

func fromEvent(ev workflow.Event) (DecisionEvent, error) {
	var payload interface{}
	switch {
	case ev.AutoScore != nil:
		payload = ev.AutoScore
	case ev.Override != nil:
		payload = ev.Override
	case ev.Correction != nil:
		payload = ev.Correction
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return DecisionEvent{}, fmt.Errorf("failed to encode %s payload: %w", ev.Kind, err)
	}
	return DecisionEvent{
		ID:            ev.ID,
		ApplicationID: ev.ApplicationID,
		Seq:           ev.Seq,
		Kind:          string(ev.Kind),
		ActorID:       ev.ActorID,
		ActorRole:     ev.ActorRole,
		Justification: ev.Justification,
		Timestamp:     ev.Timestamp,
		PriorDecision: string(ev.PriorDecision),
		PriorScore:    ev.PriorScore,
		Decision:      string(ev.Decision),
		Score:         ev.Score,
		Payload:       raw,
	}, nil
}

func toEvent(row DecisionEvent) (workflow.Event, error) {
	ev := workflow.Event{
		ID:            row.ID,
		ApplicationID: row.ApplicationID,
		Seq:           row.Seq,
		Kind:          workflow.EventKind(row.Kind),
		ActorID:       row.ActorID,
		ActorRole:     row.ActorRole,
		Justification: row.Justification,
		Timestamp:     row.Timestamp.UTC(),
		PriorDecision: workflow.Decision(row.PriorDecision),
		PriorScore:    row.PriorScore,
		Decision:      workflow.Decision(row.Decision),
		Score:         row.Score,
	}
	var target interface{}
	switch ev.Kind {
	case workflow.EventAutoScore:
		ev.AutoScore = &workflow.AutoScorePayload{}
		target = ev.AutoScore
	case workflow.EventManualOverride:
		ev.Override = &workflow.OverridePayload{}
		target = ev.Override
	case workflow.EventDataCorrection:
		ev.Correction = &workflow.CorrectionPayload{}
		target = ev.Correction
	default:
		return workflow.Event{}, fmt.Errorf("event %s has unknown kind %q", row.ID, row.Kind)
	}
	if err := json.Unmarshal(row.Payload, target); err != nil {
		return workflow.Event{}, fmt.Errorf("failed to decode payload of event %s: %w", row.ID, err)
	}
	return ev, nil
}

func fromContestation(c workflow.Contestation) (ContestationRecord, error) {
	var evidence JSONRaw
	if len(c.Evidence) > 0 {
		raw, err := json.Marshal(c.Evidence)
		if err != nil {
			return ContestationRecord{}, fmt.Errorf("failed to encode evidence: %w", err)
		}
		evidence = raw
	}
	return ContestationRecord{
		ID:                      c.ID,
		ApplicationID:           c.ApplicationID,
		ActorID:                 c.ActorID,
		ActorRole:               c.ActorRole,
		ReasonCode:              c.ReasonCode,
		Justification:           c.Justification,
		ProposedScoreAdjustment: c.ProposedScoreAdjustment,
		Evidence:                evidence,
		Status:                  string(c.Status),
		DecisionAtFiling:        string(c.DecisionAtFiling),
		ScoreAtFiling:           c.ScoreAtFiling,
		CreatedAt:               c.CreatedAt,
	}, nil
}

func toContestations(recs []ContestationRecord) ([]workflow.Contestation, error) {
	out := make([]workflow.Contestation, 0, len(recs))
	for _, rec := range recs {
		c := workflow.Contestation{
			ID:                      rec.ID,
			ApplicationID:           rec.ApplicationID,
			ActorID:                 rec.ActorID,
			ActorRole:               rec.ActorRole,
			ReasonCode:              rec.ReasonCode,
			Justification:           rec.Justification,
			ProposedScoreAdjustment: rec.ProposedScoreAdjustment,
			Status:                  workflow.ContestationStatus(rec.Status),
			DecisionAtFiling:        workflow.Decision(rec.DecisionAtFiling),
			ScoreAtFiling:           rec.ScoreAtFiling,
			CreatedAt:               rec.CreatedAt.UTC(),
		}
		if len(rec.Evidence) > 0 {
			if err := json.Unmarshal(rec.Evidence, &c.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence of contestation %s: %w", rec.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, nil
}
