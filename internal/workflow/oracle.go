package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
)

// ApprovalThreshold is the fixed automatic cutoff. A probability must be
// strictly greater than it to be approved.
const ApprovalThreshold = 0.6

// ShapValue is one feature's contribution to a score.
type ShapValue struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"impact"`
	Value   float64 `json:"value"`
}

// ScoreResult is what an oracle returns for one applicant snapshot.
type ScoreResult struct {
	Probability     float64     `json:"probability"`
	ShapValues      []ShapValue `json:"shap_values"`
	RiskFactors     []string    `json:"risk_factors"`
	Recommendations []string    `json:"recommendations"`
}

func (r ScoreResult) check() error {
	if math.IsNaN(r.Probability) || r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("oracle returned probability %v outside [0,1]", r.Probability)
	}
	return nil
}

// Oracle maps applicant data to an approval probability. It may be slow or unreliable.
type Oracle interface {
	Score(ctx context.Context, data ApplicantData) (ScoreResult, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, data ApplicantData) (ScoreResult, error)

func (f OracleFunc) Score(ctx context.Context, data ApplicantData) (ScoreResult, error) {
	return f(ctx, data)
}

// TransientError marks an oracle failure that is worth one more attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return "transient oracle failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }

// DecideAutomatic applies the approval threshold.
func DecideAutomatic(probability float64) Decision {
	if probability > ApprovalThreshold {
		return DecisionAutoApproved
	}
	return DecisionAutoRejected
}

// ConfidenceFor bands a probability. The checks run in this order and are
// not symmetric around 0.5.
func ConfidenceFor(p float64) Confidence {
	switch {
	case p > 0.8 || p < 0.3:
		return ConfidenceHigh
	case p > 0.65 || p < 0.45:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
