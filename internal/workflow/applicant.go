package workflow

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Business thresholds applied to applicant data.
const (
	DebtRatioWarningPercent = 33.0
	LowRemainingThreshold   = 300.0
	MaxAmountRevenueFactor  = 10.0
	MonthsPerYear           = 12.0
)

// ApplicantData is the snapshot of financial and personal fields used for scoring.
type ApplicantData struct {
	FamilyCircumstance      string  `json:"family_circumstance" validate:"required,max=64"`
	Activity                string  `json:"activity" validate:"required,max=64"`
	LegalForm               string  `json:"legal_form" validate:"required,max=64"`
	Revenues                float64 `json:"revenues" validate:"gt=0"`
	Charges                 float64 `json:"charges" validate:"gte=0"`
	Debt                    float64 `json:"debt" validate:"gte=0"`
	GuaranteeEstimatedValue float64 `json:"guarantee_estimated_value" validate:"gte=0"`
	AmountAsked             float64 `json:"amount_asked" validate:"gt=0"`
	IsRenewal               int     `json:"is_renewal" validate:"oneof=0 1"`
}

// AnnualRevenues scales the monthly revenues figure to a year.
func (d ApplicantData) AnnualRevenues() float64 {
	return d.Revenues * MonthsPerYear
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate enforces the shape and business rules on applicant data.
// The same rules exist in client-side forms; they are repeated here because
// the engine does not trust its callers.
func (d ApplicantData) Validate() error {
	verr := &ValidationError{}

	if err := validate.Struct(d); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate applicant data: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), tagMessage(fe))
		}
	}

	for field, v := range map[string]float64{
		"revenues":                  d.Revenues,
		"charges":                   d.Charges,
		"debt":                      d.Debt,
		"guarantee_estimated_value": d.GuaranteeEstimatedValue,
		"amount_asked":              d.AmountAsked,
	} {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			verr.Add(field, "must be a finite number")
		}
	}

	// Cross-field rules only make sense once revenues are usable.
	if !verr.Has("revenues") {
		if !verr.Has("debt") && d.Debt > d.Revenues {
			verr.Add("debt", "debt ratio must not exceed 100% of revenues")
		}
		if !verr.Has("charges") && d.Charges > d.Revenues {
			verr.Add("charges", "must not exceed revenues")
		}
		if !verr.Has("amount_asked") && d.AmountAsked > MaxAmountRevenueFactor*d.AnnualRevenues() {
			verr.Add("amount_asked", fmt.Sprintf("must not exceed %.0f times annual revenues", MaxAmountRevenueFactor))
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// FieldChange is one entry of a correction diff.
type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Diff returns the fields that differ between two snapshots, keyed by JSON name.
func Diff(from, to ApplicantData) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	fv := reflect.ValueOf(from)
	tv := reflect.ValueOf(to)
	t := fv.Type()
	for i := 0; i < t.NumField(); i++ {
		a := fv.Field(i).Interface()
		b := tv.Field(i).Interface()
		if a == b {
			continue
		}
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		changes[name] = FieldChange{From: a, To: b}
	}
	return changes
}

// Ratios are derived from applicant data on read and never stored.
type Ratios struct {
	DebtRatio       float64  `json:"debt_ratio"`
	RemainingToLive float64  `json:"remaining_to_live"`
	GuaranteeRatio  float64  `json:"guarantee_ratio"`
	CapacityMonths  *float64 `json:"capacity_months,omitempty"`
}

// ComputeRatios derives the financial ratios shown next to a decision.
func ComputeRatios(d ApplicantData) Ratios {
	r := Ratios{RemainingToLive: d.Revenues - d.Charges}
	if d.Revenues > 0 {
		r.DebtRatio = d.Debt / d.Revenues * 100
	}
	if d.AmountAsked > 0 {
		r.GuaranteeRatio = d.GuaranteeEstimatedValue / d.AmountAsked * 100
	}
	if r.RemainingToLive > 0 {
		months := d.AmountAsked / r.RemainingToLive
		r.CapacityMonths = &months
	}
	return r
}

// Warning codes raised from fixed business thresholds.
const (
	WarningHighDebtRatio     = "high_debt_ratio"
	WarningNegativeRemaining = "negative_remaining"
	WarningLowRemaining      = "low_remaining"
)

// Warnings lists the threshold warnings for a set of ratios.
func (r Ratios) Warnings() []string {
	var out []string
	if r.DebtRatio > DebtRatioWarningPercent {
		out = append(out, WarningHighDebtRatio)
	}
	switch {
	case r.RemainingToLive < 0:
		out = append(out, WarningNegativeRemaining)
	case r.RemainingToLive < LowRemainingThreshold:
		out = append(out, WarningLowRemaining)
	}
	return out
}
