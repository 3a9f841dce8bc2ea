package workflow

// Reason codes accepted per override action.
var (
	approvalReasons = map[string]bool{
		"strong_guarantee":        true,
		"sufficient_capacity":     true,
		"client_history":          true,
		"commercial_relationship": true,
		"other":                   true,
	}
	rejectionReasons = map[string]bool{
		"high_debt_ratio":        true,
		"insufficient_income":    true,
		"insufficient_guarantee": true,
		"incomplete_file":        true,
		"risk_profile":           true,
		"other":                  true,
	}
	reevaluationReasons = map[string]bool{
		"new_information": true,
		"data_error":      true,
		"client_request":  true,
		"policy_change":   true,
		"other":           true,
	}
)

// contestationReasons maps a reason code to whether evidence is mandatory.
var contestationReasons = map[string]bool{
	"score_error":           false,
	"missing_information":   true,
	"changed_circumstances": true,
	"unfair_treatment":      false,
	"other":                 false,
}

// ValidOverrideReason reports whether code belongs to the reason set of action.
func ValidOverrideReason(action OverrideAction, code string) bool {
	switch action {
	case ActionApprove:
		return approvalReasons[code]
	case ActionReject:
		return rejectionReasons[code]
	case ActionReevaluate:
		return reevaluationReasons[code]
	}
	return false
}

// ContestationReason reports whether code is known and whether it requires evidence.
func ContestationReason(code string) (known bool, needsEvidence bool) {
	needsEvidence, known = contestationReasons[code]
	return known, needsEvidence
}
