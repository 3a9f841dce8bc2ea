package api

import (
	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// ApplicationToResponse derives confidence, ratios and warnings from the
// loaded application.
func ApplicationToResponse(app *workflow.Application) ApplicationResponse {
	ratios := app.Ratios()
	warnings := ratios.Warnings()
	if warnings == nil {
		warnings = []string{}
	}
	return ApplicationResponse{
		ID:              app.ID,
		SubmittedBy:     app.SubmittedBy,
		Data:            app.Data,
		CurrentDecision: app.CurrentDecision(),
		CurrentScore:    app.CurrentScore(),
		Confidence:      app.Confidence(),
		Ratios:          ratios,
		Warnings:        warnings,
		Version:         app.Version,
		CreatedAt:       app.CreatedAt,
		UpdatedAt:       app.UpdatedAt,
	}
}

// ResultToResponse converts an engine result.
func ResultToResponse(res *workflow.Result) CommandResponse {
	events := res.Events
	if events == nil {
		events = []workflow.Event{}
	}
	return CommandResponse{Application: ApplicationToResponse(res.Application), Events: events}
}

// ApplicationRecordToListItem uses the cached decision columns only.
func ApplicationRecordToListItem(rec database.ApplicationRecord) ApplicationListItem {
	return ApplicationListItem{
		ID:              rec.ID,
		SubmittedBy:     rec.SubmittedBy,
		Activity:        rec.Activity,
		AmountAsked:     rec.AmountAsked,
		CurrentDecision: workflow.Decision(rec.CurrentDecision),
		CurrentScore:    rec.CurrentScore,
		Confidence:      workflow.ConfidenceFor(rec.CurrentScore),
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt,
	}
}

func ApplicationRecordsToListItems(recs []database.ApplicationRecord) []ApplicationListItem {
	items := make([]ApplicationListItem, len(recs))
	for i, rec := range recs {
		items[i] = ApplicationRecordToListItem(rec)
	}
	return items
}

func UserToResponse(u database.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Role: u.Role, CreatedAt: u.CreatedAt}
}

func UsersToResponses(users []database.User) []UserResponse {
	out := make([]UserResponse, len(users))
	for i, u := range users {
		out[i] = UserToResponse(u)
	}
	return out
}
