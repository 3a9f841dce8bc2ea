// Package workflow owns the lifecycle of a credit application's decision:
// automatic scoring at submission, manual overrides, data corrections with
// re-scoring, and contestations queued for managerial review.
//
// The package performs no I/O of its own. Persistence, scoring, permission
// checks and time are injected through Options.
package workflow

// Decision is the current truth about an application.
type Decision string

const (
	DecisionAutoApproved   Decision = "AUTO_APPROVED"
	DecisionAutoRejected   Decision = "AUTO_REJECTED"
	DecisionManualApproved Decision = "MANUAL_APPROVED"
	DecisionManualRejected Decision = "MANUAL_REJECTED"
	DecisionUnderReview    Decision = "UNDER_REVIEW"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAutoApproved, DecisionAutoRejected, DecisionManualApproved,
		DecisionManualRejected, DecisionUnderReview:
		return true
	}
	return false
}

// IsAutomatic reports whether d was produced by the scoring oracle.
func (d Decision) IsAutomatic() bool {
	return d == DecisionAutoApproved || d == DecisionAutoRejected
}

// EventKind discriminates decision events.
type EventKind string

const (
	EventAutoScore      EventKind = "AUTO_SCORE"
	EventManualOverride EventKind = "MANUAL_OVERRIDE"
	EventDataCorrection EventKind = "DATA_CORRECTION"
	EventContestation   EventKind = "CONTESTATION"
)

// OverrideAction is what an agent asks for in a manual override.
type OverrideAction string

const (
	ActionApprove    OverrideAction = "approve"
	ActionReject     OverrideAction = "reject"
	ActionReevaluate OverrideAction = "reevaluate"
)

// Target returns the decision an override action leads to.
func (a OverrideAction) Target() (Decision, bool) {
	switch a {
	case ActionApprove:
		return DecisionManualApproved, true
	case ActionReject:
		return DecisionManualRejected, true
	case ActionReevaluate:
		return DecisionUnderReview, true
	}
	return "", false
}

// Confidence bands an automatic score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// SystemActorID and SystemRole identify automated scoring in the history.
const (
	SystemActorID = "system"
	SystemRole    = "system"
)

// Actor is whoever performs an operation.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// System is the actor recorded on AUTO_SCORE events.
var System = Actor{ID: SystemActorID, Role: SystemRole}
