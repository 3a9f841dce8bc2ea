package testhelpers

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// ========================================
// Applicant Data Builder
// ========================================

// ApplicantDataBuilder builds valid applicant data with overridable fields.
type ApplicantDataBuilder struct {
	data workflow.ApplicantData
}

// NewApplicantDataBuilder starts from a comfortable, valid application.
func NewApplicantDataBuilder() *ApplicantDataBuilder {
	return &ApplicantDataBuilder{data: workflow.ApplicantData{
		FamilyCircumstance:      "married",
		Activity:                "retail",
		LegalForm:               "SARL",
		Revenues:                4000,
		Charges:                 1200,
		Debt:                    600,
		GuaranteeEstimatedValue: 25000,
		AmountAsked:             20000,
		IsRenewal:               0,
	}}
}

func (b *ApplicantDataBuilder) WithRevenues(v float64) *ApplicantDataBuilder {
	b.data.Revenues = v
	return b
}

func (b *ApplicantDataBuilder) WithCharges(v float64) *ApplicantDataBuilder {
	b.data.Charges = v
	return b
}

func (b *ApplicantDataBuilder) WithDebt(v float64) *ApplicantDataBuilder {
	b.data.Debt = v
	return b
}

func (b *ApplicantDataBuilder) WithGuarantee(v float64) *ApplicantDataBuilder {
	b.data.GuaranteeEstimatedValue = v
	return b
}

func (b *ApplicantDataBuilder) WithAmountAsked(v float64) *ApplicantDataBuilder {
	b.data.AmountAsked = v
	return b
}

func (b *ApplicantDataBuilder) AsRenewal() *ApplicantDataBuilder {
	b.data.IsRenewal = 1
	return b
}

func (b *ApplicantDataBuilder) Build() workflow.ApplicantData {
	return b.data
}

// ========================================
// Engine Builder
// ========================================

// FixedOracle always returns the same probability.
type FixedOracle float64

func (o FixedOracle) Score(ctx context.Context, data workflow.ApplicantData) (workflow.ScoreResult, error) {
	return workflow.ScoreResult{
		Probability: float64(o),
		ShapValues:  []workflow.ShapValue{{Feature: "debt_ratio", Impact: 0.1, Value: data.Debt / data.Revenues}},
	}, nil
}

// StepClock returns a clock that advances one second per call.
func StepClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

// SequentialIDs returns an ID generator producing prefix-1, prefix-2, ...
func SequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// NewEngine builds an engine with the default role policy, a step clock
// and sequential IDs.
func NewEngine(t *testing.T, repo workflow.Repository, oracle workflow.Oracle) *workflow.Engine {
	t.Helper()
	engine, err := workflow.NewEngine(workflow.Options{
		Repository: repo,
		Oracle:     oracle,
		Policy:     workflow.DefaultRolePolicy(),
		Now:        StepClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)),
		NewID:      SequentialIDs("id"),
	})
	require.NoError(t, err)
	return engine
}
