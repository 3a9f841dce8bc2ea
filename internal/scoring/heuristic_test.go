package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

func applicant() workflow.ApplicantData {
	return workflow.ApplicantData{
		FamilyCircumstance:      "married",
		Activity:                "retail",
		LegalForm:               "SARL",
		Revenues:                250000,
		Charges:                 80000,
		Debt:                    50000,
		GuaranteeEstimatedValue: 500000,
		AmountAsked:             150000,
	}
}

func TestHeuristicDeterministicWithoutNoise(t *testing.T) {
	h := NewHeuristic(0, 1)
	a, err := h.Score(context.Background(), applicant())
	require.NoError(t, err)
	b, err := h.Score(context.Background(), applicant())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Greater(t, a.Probability, workflow.ApprovalThreshold)
	assert.Len(t, a.ShapValues, len(features))
	assert.Empty(t, a.RiskFactors)
}

func TestHeuristicSeededNoiseIsReproducible(t *testing.T) {
	first := NewHeuristic(0.05, 42)
	second := NewHeuristic(0.05, 42)
	base := NewHeuristic(0, 0)

	want, err := base.Score(context.Background(), applicant())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		a, err := first.Score(context.Background(), applicant())
		require.NoError(t, err)
		b, err := second.Score(context.Background(), applicant())
		require.NoError(t, err)
		assert.Equal(t, a.Probability, b.Probability)
		assert.InDelta(t, want.Probability, a.Probability, 0.05)
	}
}

func TestHeuristicPenalizesRisk(t *testing.T) {
	h := NewHeuristic(0, 1)
	good, err := h.Score(context.Background(), applicant())
	require.NoError(t, err)

	risky := applicant()
	risky.Debt = 200000
	risky.Charges = 249900
	risky.GuaranteeEstimatedValue = 10000
	bad, err := h.Score(context.Background(), risky)
	require.NoError(t, err)

	assert.Less(t, bad.Probability, good.Probability)
	assert.Less(t, bad.Probability, workflow.ApprovalThreshold)
	assert.Contains(t, bad.RiskFactors, "Debt ratio above 33% of revenues")
	assert.Contains(t, bad.RiskFactors, "Low remaining-to-live after charges")
	assert.Contains(t, bad.RiskFactors, "Guarantee covers less than half of the amount")
	assert.NotEmpty(t, bad.Recommendations)

	// Largest absolute impact first.
	for i := 1; i < len(bad.ShapValues); i++ {
		prev, cur := bad.ShapValues[i-1].Impact, bad.ShapValues[i].Impact
		assert.GreaterOrEqual(t, abs(prev), abs(cur))
	}
}

func TestHeuristicHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic(0, 1).Score(ctx, applicant())
	assert.ErrorIs(t, err, context.Canceled)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestHeuristicAmountRiskUsesAnnualRevenues(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		risky  bool
	}{
		{"fifty times monthly", 50000, false},
		{"at half the cap", 60000, false},
		{"above half the cap", 70000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := applicant()
			d.Revenues, d.Charges, d.Debt = 1000, 200, 100
			d.AmountAsked = tt.amount
			d.GuaranteeEstimatedValue = tt.amount
			require.NoError(t, d.Validate())

			res, err := NewHeuristic(0, 1).Score(context.Background(), d)
			require.NoError(t, err)
			if tt.risky {
				assert.Contains(t, res.RiskFactors, "Amount is high relative to revenues")
			} else {
				assert.NotContains(t, res.RiskFactors, "Amount is high relative to revenues")
			}
		})
	}
}
