package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db, logger.Nop()))
	return db
}

type staticOracle float64

func (o staticOracle) Score(ctx context.Context, data workflow.ApplicantData) (workflow.ScoreResult, error) {
	return workflow.ScoreResult{
		Probability: float64(o),
		ShapValues:  []workflow.ShapValue{{Feature: "debt_ratio", Impact: 0.2, Value: 0.2}},
		RiskFactors: []string{"none"},
	}, nil
}

func newEngine(t *testing.T, repo workflow.Repository, p float64) *workflow.Engine {
	t.Helper()
	clock := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	engine, err := workflow.NewEngine(workflow.Options{
		Repository: repo,
		Oracle:     staticOracle(p),
		Policy:     workflow.DefaultRolePolicy(),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)
	return engine
}

func applicant() workflow.ApplicantData {
	return workflow.ApplicantData{
		FamilyCircumstance:      "single",
		Activity:                "consulting",
		LegalForm:               "EI",
		Revenues:                4000,
		Charges:                 1500,
		Debt:                    800,
		GuaranteeEstimatedValue: 20000,
		AmountAsked:             30000,
		IsRenewal:               1,
	}
}

var (
	client = workflow.Actor{ID: "client-1", Role: "client"}
	agent  = workflow.Actor{ID: "agent-1", Role: "agent"}
)
