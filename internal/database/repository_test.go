package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

func TestRepositoryPersistsFullLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	engine := newEngine(t, repo, 0.72)
	ctx := context.Background()

	res, err := engine.Submit(ctx, workflow.SubmitRequest{Actor: client, Data: applicant()})
	require.NoError(t, err)
	id := res.Application.ID

	_, err = engine.Override(ctx, workflow.OverrideRequest{
		ApplicationID: id, Actor: agent, Action: workflow.ActionReject,
		ReasonCode: "insufficient_income", Justification: "Income not verified",
	})
	require.NoError(t, err)

	data := applicant()
	data.Revenues = 4500
	_, err = engine.CorrectData(ctx, workflow.CorrectionRequest{
		ApplicationID: id, Actor: agent, Data: data, Justification: "New payslips received",
	})
	require.NoError(t, err)

	adj := -3
	_, err = engine.Contest(ctx, workflow.ContestRequest{
		ApplicationID: id, Actor: client, ReasonCode: "missing_information",
		Justification: "Bonus not counted", ProposedScoreAdjustment: &adj, Evidence: []string{"doc://bonus.pdf"},
	})
	require.NoError(t, err)

	// A fresh repository sees exactly what was committed.
	loaded, err := NewRepository(db).Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, loaded.CheckHistory())
	require.Len(t, loaded.History, 4)
	assert.Equal(t, []workflow.EventKind{
		workflow.EventAutoScore, workflow.EventManualOverride, workflow.EventDataCorrection, workflow.EventAutoScore,
	}, kinds(loaded.History))
	assert.Equal(t, workflow.DecisionAutoApproved, loaded.CurrentDecision())
	assert.Equal(t, 0.72, loaded.CurrentScore())
	assert.Equal(t, int64(3), loaded.Version)
	assert.Equal(t, data, loaded.Data)
	assert.Equal(t, client.ID, loaded.SubmittedBy)

	first := loaded.History[0]
	require.NotNil(t, first.AutoScore)
	assert.Equal(t, workflow.ConfidenceMedium, first.AutoScore.Confidence)
	assert.Equal(t, "debt_ratio", first.AutoScore.ShapValues[0].Feature)
	require.NotNil(t, loaded.History[1].Override)
	assert.Equal(t, "insufficient_income", loaded.History[1].Override.ReasonCode)
	require.NotNil(t, loaded.History[2].Correction)
	assert.Contains(t, loaded.History[2].Correction.Changes, "revenues")

	contestations, err := repo.ListContestations(ctx, id)
	require.NoError(t, err)
	require.Len(t, contestations, 1)
	assert.Equal(t, []string{"doc://bonus.pdf"}, contestations[0].Evidence)
	require.NotNil(t, contestations[0].ProposedScoreAdjustment)
	assert.Equal(t, -3, *contestations[0].ProposedScoreAdjustment)
	assert.Equal(t, workflow.ContestationPending, contestations[0].Status)

	audit, total, err := repo.ListAudit(ctx, AuditFilter{ApplicationID: id}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, "CONTESTATION", audit[4].Action)
	assert.Equal(t, "Income not verified", audit[1].Justification)

	var pending int64
	require.NoError(t, db.Model(&NotificationOutbox{}).Where("status = ?", OutboxPending).Count(&pending).Error)
	assert.Equal(t, int64(5), pending)
}

func TestRepositoryRejectsStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	engine := newEngine(t, repo, 0.3)
	ctx := context.Background()

	res, err := engine.Submit(ctx, workflow.SubmitRequest{Actor: client, Data: applicant()})
	require.NoError(t, err)

	stale, err := repo.Get(ctx, res.Application.ID)
	require.NoError(t, err)

	_, err = engine.Override(ctx, workflow.OverrideRequest{
		ApplicationID: stale.ID, Actor: agent, Action: workflow.ActionApprove,
		ReasonCode: "strong_guarantee", Justification: "Property guarantee",
	})
	require.NoError(t, err)

	// Build a commit on top of the version read before the override.
	ev := workflow.Event{
		ID: "stale-event", ApplicationID: stale.ID, Seq: 2, Kind: workflow.EventManualOverride,
		ActorID: agent.ID, ActorRole: agent.Role, Justification: "late", Timestamp: stale.History[0].Timestamp,
		PriorDecision: stale.CurrentDecision(), Decision: workflow.DecisionManualRejected,
		Override: &workflow.OverridePayload{Action: workflow.ActionReject, ReasonCode: "other"},
	}
	stale.History = append(stale.History, ev)
	stale.Version++
	err = repo.Commit(ctx, workflow.Commit{Application: stale, ExpectedVersion: 1, Events: []workflow.Event{ev}})

	var conflict *workflow.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	assert.Equal(t, int64(2), conflict.ActualVersion)

	var events int64
	require.NoError(t, db.Model(&DecisionEvent{}).Count(&events).Error)
	assert.Equal(t, int64(2), events)
	current, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionManualApproved, current.CurrentDecision())
}

func TestRepositoryDuplicateInsertConflicts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	engine := newEngine(t, repo, 0.9)
	ctx := context.Background()

	res, err := engine.Submit(ctx, workflow.SubmitRequest{Actor: client, Data: applicant()})
	require.NoError(t, err)

	err = repo.Commit(ctx, workflow.Commit{Application: res.Application, ExpectedVersion: 0})
	assert.ErrorIs(t, err, workflow.ErrConflict)
}

func TestRepositoryNotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	err = repo.AddContestation(ctx, workflow.Contestation{ID: "c", ApplicationID: "missing"}, workflow.AuditRecord{})
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestRepositoryListings(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	approve := newEngine(t, repo, 0.9)
	reject := newEngine(t, repo, 0.1)
	other := workflow.Actor{ID: "client-2", Role: "client"}

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := approve.Submit(ctx, workflow.SubmitRequest{Actor: client, Data: applicant()})
		require.NoError(t, err)
		ids = append(ids, res.Application.ID)
	}
	res, err := reject.Submit(ctx, workflow.SubmitRequest{Actor: other, Data: applicant()})
	require.NoError(t, err)
	rejectedID := res.Application.ID

	all, total, err := repo.ListApplications(ctx, ApplicationFilter{}, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 2)

	rejected, total, err := repo.ListApplications(ctx, ApplicationFilter{Decision: workflow.DecisionAutoRejected}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, rejectedID, rejected[0].ID)
	assert.Equal(t, applicant(), rejected[0].ApplicantData())

	mine, total, err := repo.ListApplications(ctx, ApplicationFilter{SubmittedBy: client.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, mine, 3)

	for _, id := range ids[:2] {
		_, err := approve.Contest(ctx, workflow.ContestRequest{
			ApplicationID: id, Actor: client, ReasonCode: "score_error", Justification: "Please recheck",
		})
		require.NoError(t, err)
	}
	queue, total, err := repo.ContestationQueue(ctx, workflow.ContestationPending, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, ids[0], queue[0].ApplicationID)

	byActor, total, err := repo.ListAudit(ctx, AuditFilter{ActorID: client.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, e := range byActor {
		assert.Equal(t, "CONTESTATION", e.Action)
	}
}

func kinds(events []workflow.Event) []workflow.EventKind {
	out := make([]workflow.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}
