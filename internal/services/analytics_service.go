package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// Summary is the dashboard view of the decision workflow.
type Summary struct {
	TotalApplications    int64                       `json:"total_applications"`
	ByDecision           map[workflow.Decision]int64 `json:"by_decision"`
	OverrideCount        int64                       `json:"override_count"`
	OverriddenCount      int64                       `json:"overridden_applications"`
	OverrideRate         float64                     `json:"override_rate"`
	AverageScore         float64                     `json:"average_score"`
	CorrectionCount      int64                       `json:"correction_count"`
	PendingContestations int64                       `json:"pending_contestations"`
}

// AnalyticsService aggregates over the cached decision columns and the
// event log. It never loads full histories.
type AnalyticsService struct {
	db *gorm.DB
}

func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: db}
}

func (s *AnalyticsService) Summary(ctx context.Context) (*Summary, error) {
	db := s.db.WithContext(ctx)
	out := &Summary{ByDecision: make(map[workflow.Decision]int64)}

	var groups []struct {
		CurrentDecision string
		Count           int64
		ScoreSum        float64
	}
	err := db.Model(&database.ApplicationRecord{}).
		Select("current_decision, COUNT(*) AS count, SUM(current_score) AS score_sum").
		Group("current_decision").
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}
	var scoreSum float64
	for _, g := range groups {
		out.ByDecision[workflow.Decision(g.CurrentDecision)] = g.Count
		out.TotalApplications += g.Count
		scoreSum += g.ScoreSum
	}
	if out.TotalApplications > 0 {
		out.AverageScore = scoreSum / float64(out.TotalApplications)
	}

	if err := db.Model(&database.DecisionEvent{}).
		Where("kind = ?", string(workflow.EventManualOverride)).
		Count(&out.OverrideCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count overrides: %w", err)
	}
	if err := db.Model(&database.DecisionEvent{}).
		Where("kind = ?", string(workflow.EventManualOverride)).
		Distinct("application_id").
		Count(&out.OverriddenCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count overridden applications: %w", err)
	}
	if out.TotalApplications > 0 {
		out.OverrideRate = float64(out.OverriddenCount) / float64(out.TotalApplications)
	}

	if err := db.Model(&database.DecisionEvent{}).
		Where("kind = ?", string(workflow.EventDataCorrection)).
		Count(&out.CorrectionCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count corrections: %w", err)
	}
	if err := db.Model(&database.ContestationRecord{}).
		Where("status = ?", string(workflow.ContestationPending)).
		Count(&out.PendingContestations).Error; err != nil {
		return nil, fmt.Errorf("failed to count contestations: %w", err)
	}
	return out, nil
}
