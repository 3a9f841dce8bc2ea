package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

func TestOutboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	store := NewOutboxStore(db)
	ctx := context.Background()

	engine := newEngine(t, repo, 0.8)
	res, err := engine.Submit(ctx, workflow.SubmitRequest{Actor: client, Data: applicant()})
	require.NoError(t, err)
	_, err = engine.Override(ctx, workflow.OverrideRequest{
		ApplicationID: res.Application.ID, Actor: agent, Action: workflow.ActionReevaluate,
		ReasonCode: "client_request", Justification: "Client asked for review",
	})
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Minute)
	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, TopicDecisionEvent, due[0].Topic)
	assert.Equal(t, "AUTO_SCORE", due[0].Kind)

	require.NoError(t, store.MarkSent(ctx, due[0].ID, now))

	due, err = store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "MANUAL_OVERRIDE", due[0].Kind)
	assert.Contains(t, string(due[0].Payload), "client_request")

	require.NoError(t, store.MarkRetry(ctx, due[0].ID, 1, now.Add(time.Hour), "slack down"))

	due, err = store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, "slack down", due[0].LastError)

	require.NoError(t, store.MarkFailed(ctx, due[0].ID, 2, "still down"))
	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[OutboxSent])
	assert.Equal(t, int64(1), counts[OutboxFailed])
	assert.Zero(t, counts[OutboxPending])

	assert.Error(t, store.MarkSent(ctx, 9999, now))
}

func TestOutboxDue_HoldsRowsBehindEarlierPending(t *testing.T) {
	db := setupTestDB(t)
	store := NewOutboxStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	add := func(app, ref string, next time.Time) NotificationOutbox {
		row := NotificationOutbox{
			Topic: TopicDecisionEvent, ApplicationID: app, RefID: ref, Kind: "MANUAL_OVERRIDE",
			Payload: JSONRaw(`{}`), Status: OutboxPending, NextAttemptAt: next,
		}
		require.NoError(t, db.Create(&row).Error)
		return row
	}
	first := add("app-a", "a-1", now.Add(time.Hour))
	second := add("app-a", "a-2", now)
	other := add("app-b", "b-1", now)

	tests := []struct {
		name string
		at   time.Time
		want []string
	}{
		{"earlier row rescheduled", now, []string{"b-1"}},
		{"earlier row due again", now.Add(2 * time.Hour), []string{"a-1", "b-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := store.Due(ctx, tt.at, 10)
			require.NoError(t, err)
			var refs []string
			for _, r := range due {
				refs = append(refs, r.RefID)
			}
			assert.Equal(t, tt.want, refs)
		})
	}

	require.NoError(t, store.MarkSent(ctx, first.ID, now))
	require.NoError(t, store.MarkSent(ctx, other.ID, now))
	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second.ID, due[0].ID)
}

func TestEnsureAdmin(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, EnsureAdmin(db, "admin", "s3cret-pass", "admin", logger.Nop()))
	require.NoError(t, EnsureAdmin(db, "admin", "other-pass", "admin", logger.Nop()))

	var users []User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users[0].PasswordHash), []byte("s3cret-pass")))

	assert.Error(t, EnsureAdmin(db, "", "x", "admin", logger.Nop()))
}
