package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	agent   = Actor{ID: "agent-1", Role: "agent"}
	manager = Actor{ID: "manager-1", Role: "manager"}
	client  = Actor{ID: "client-1", Role: "client"}
	other   = Actor{ID: "client-2", Role: "client"}
)

// scenarioData is the applicant from the first end-to-end scenario.
func scenarioData() ApplicantData {
	return ApplicantData{
		FamilyCircumstance:      "married",
		Activity:                "retail",
		LegalForm:               "SARL",
		Revenues:                250000,
		Charges:                 80000,
		Debt:                    50000,
		GuaranteeEstimatedValue: 500000,
		AmountAsked:             150000,
		IsRenewal:               0,
	}
}

// fixedOracle always returns the same probability and counts its calls.
type fixedOracle struct {
	probability float64
	calls       atomic.Int32
}

func (o *fixedOracle) Score(ctx context.Context, data ApplicantData) (ScoreResult, error) {
	o.calls.Add(1)
	return ScoreResult{
		Probability: o.probability,
		ShapValues:  []ShapValue{{Feature: "debt_ratio", Impact: -0.1, Value: 20}},
		RiskFactors: []string{"none"},
	}, nil
}

// sequenceOracle hands out probabilities in order and repeats the last one.
type sequenceOracle struct {
	mu    sync.Mutex
	probs []float64
}

func (o *sequenceOracle) Score(ctx context.Context, data ApplicantData) (ScoreResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.probs[0]
	if len(o.probs) > 1 {
		o.probs = o.probs[1:]
	}
	return ScoreResult{Probability: p}, nil
}

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
	dir time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), dir: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.dir)
	return c.now
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%04d", n.Add(1))
	}
}

func newTestEngine(t *testing.T, oracle Oracle) (*Engine, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	engine, err := NewEngine(Options{
		Repository:     repo,
		Oracle:         oracle,
		Policy:         DefaultRolePolicy(),
		Now:            newStepClock().Now,
		NewID:          sequentialIDs(),
		ScoringTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	return engine, repo
}

func submit(t *testing.T, engine *Engine, actor Actor) *Application {
	t.Helper()
	res, err := engine.Submit(context.Background(), SubmitRequest{Actor: actor, Data: scenarioData()})
	require.NoError(t, err)
	return res.Application
}

// requireConsistent checks the cached state against the last history entry.
func requireConsistent(t *testing.T, app *Application) {
	t.Helper()
	require.NoError(t, app.CheckHistory())
	last := app.History[len(app.History)-1]
	require.Equal(t, last.Decision, app.CurrentDecision())
	require.Equal(t, last.Score, app.CurrentScore())
}
