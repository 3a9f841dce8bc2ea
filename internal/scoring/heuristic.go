// Package scoring provides the oracles that turn applicant data into an
// approval probability.
package scoring

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// feature is one input of the heuristic model. Impact is weight × (value − baseline)
// on the logit scale, so a feature at its baseline contributes nothing.
type feature struct {
	name     string
	weight   float64
	baseline float64
	value    func(d workflow.ApplicantData) float64
}

var features = []feature{
	{"debt_ratio", -2.5, 0.25, func(d workflow.ApplicantData) float64 { return d.Debt / d.Revenues }},
	{"charges_ratio", -1.5, 0.35, func(d workflow.ApplicantData) float64 { return d.Charges / d.Revenues }},
	{"guarantee_coverage", 1.2, 0.5, func(d workflow.ApplicantData) float64 {
		return math.Min(d.GuaranteeEstimatedValue/d.AmountAsked, 2) / 2
	}},
	{"amount_to_revenue", -1.0, 0.2, func(d workflow.ApplicantData) float64 {
		return d.AmountAsked / (workflow.MaxAmountRevenueFactor * d.AnnualRevenues())
	}},
	{"is_renewal", 0.4, 0, func(d workflow.ApplicantData) float64 { return float64(d.IsRenewal) }},
}

// heuristicBias is the logit of an applicant sitting on every baseline.
const heuristicBias = 0.5

// Heuristic is a weighted-ratio model with optional seeded jitter.
// With zero noise it is fully deterministic.
type Heuristic struct {
	noise float64
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewHeuristic builds the heuristic oracle. noise is the maximum absolute
// jitter added to the probability; seed makes the jitter reproducible.
func NewHeuristic(noise float64, seed int64) *Heuristic {
	return &Heuristic{
		noise: math.Max(0, noise),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (h *Heuristic) Score(ctx context.Context, data workflow.ApplicantData) (workflow.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return workflow.ScoreResult{}, err
	}
	if data.Revenues <= 0 || data.AmountAsked <= 0 {
		return workflow.ScoreResult{}, workflow.NewValidationError("revenues", "cannot score without revenues and amount")
	}

	logit := heuristicBias
	shap := make([]workflow.ShapValue, 0, len(features))
	for _, f := range features {
		v := f.value(data)
		impact := f.weight * (v - f.baseline)
		logit += impact
		shap = append(shap, workflow.ShapValue{Feature: f.name, Impact: round(impact), Value: round(v)})
	}
	sort.SliceStable(shap, func(i, j int) bool {
		return math.Abs(shap[i].Impact) > math.Abs(shap[j].Impact)
	})

	p := 1 / (1 + math.Exp(-logit))
	if h.noise > 0 {
		h.mu.Lock()
		p += h.noise * (2*h.rng.Float64() - 1)
		h.mu.Unlock()
	}
	p = math.Min(1, math.Max(0, p))

	risks, recs := assess(data)
	return workflow.ScoreResult{
		Probability:     p,
		ShapValues:      shap,
		RiskFactors:     risks,
		Recommendations: recs,
	}, nil
}

// assess derives human-readable risk factors and recommendations from the
// same thresholds the workflow warns on.
func assess(d workflow.ApplicantData) (risks, recs []string) {
	r := workflow.ComputeRatios(d)
	for _, w := range r.Warnings() {
		switch w {
		case workflow.WarningHighDebtRatio:
			risks = append(risks, "Debt ratio above 33% of revenues")
			recs = append(recs, "Consider consolidating existing debt before approval")
		case workflow.WarningNegativeRemaining:
			risks = append(risks, "Charges exceed revenues")
			recs = append(recs, "Request updated income documentation")
		case workflow.WarningLowRemaining:
			risks = append(risks, "Low remaining-to-live after charges")
			recs = append(recs, "Reduce the requested amount or extend the term")
		}
	}
	if r.GuaranteeRatio < 50 {
		risks = append(risks, "Guarantee covers less than half of the amount")
		recs = append(recs, "Ask for an additional guarantee")
	}
	if d.AmountAsked > d.AnnualRevenues()*workflow.MaxAmountRevenueFactor/2 {
		risks = append(risks, "Amount is high relative to revenues")
	}
	if d.IsRenewal == 1 && len(risks) == 0 {
		recs = append(recs, "Existing client in good standing; fast-track eligible")
	}
	return risks, recs
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
