package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Application is one credit request. History is the source of truth; the
// current decision and score are always read from its last entry.
type Application struct {
	ID          string
	SubmittedBy string
	Data        ApplicantData
	History     []Event
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Last returns the most recent event, or nil for an empty history.
func (a *Application) Last() *Event {
	if len(a.History) == 0 {
		return nil
	}
	return &a.History[len(a.History)-1]
}

func (a *Application) CurrentDecision() Decision {
	if last := a.Last(); last != nil {
		return last.Decision
	}
	return ""
}

func (a *Application) CurrentScore() float64 {
	if last := a.Last(); last != nil {
		return last.Score
	}
	return 0
}

// Confidence bands the current score.
func (a *Application) Confidence() Confidence {
	return ConfidenceFor(a.CurrentScore())
}

func (a *Application) Ratios() Ratios {
	return ComputeRatios(a.Data)
}

// CheckHistory verifies the ledger invariants: contiguous sequence numbers,
// non-decreasing timestamps, well-formed payloads and chained prior snapshots.
func (a *Application) CheckHistory() error {
	if len(a.History) == 0 {
		return fmt.Errorf("application %s has an empty history", a.ID)
	}
	if a.History[0].Kind != EventAutoScore {
		return fmt.Errorf("application %s: first event is %s, want %s", a.ID, a.History[0].Kind, EventAutoScore)
	}
	for i, e := range a.History {
		if err := e.Check(); err != nil {
			return err
		}
		if e.Seq != i+1 {
			return fmt.Errorf("application %s: event %d has seq %d", a.ID, i, e.Seq)
		}
		if i == 0 {
			continue
		}
		prev := a.History[i-1]
		if e.Timestamp.Before(prev.Timestamp) {
			return fmt.Errorf("application %s: event %d goes back in time", a.ID, e.Seq)
		}
		if e.PriorDecision != prev.Decision || e.PriorScore != prev.Score {
			return fmt.Errorf("application %s: event %d prior snapshot does not match event %d", a.ID, e.Seq, prev.Seq)
		}
	}
	return nil
}

// applicationJSON is the wire form. Current fields are written for readers
// and ignored when decoding.
type applicationJSON struct {
	ID              string        `json:"id"`
	SubmittedBy     string        `json:"submitted_by"`
	Data            ApplicantData `json:"applicant_data"`
	History         []Event       `json:"decision_history"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CurrentDecision Decision      `json:"current_decision"`
	CurrentScore    float64       `json:"current_score"`
}

func (a *Application) MarshalJSON() ([]byte, error) {
	return json.Marshal(applicationJSON{
		ID:              a.ID,
		SubmittedBy:     a.SubmittedBy,
		Data:            a.Data,
		History:         a.History,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		CurrentDecision: a.CurrentDecision(),
		CurrentScore:    a.CurrentScore(),
	})
}

func (a *Application) UnmarshalJSON(b []byte) error {
	var w applicationJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = Application{
		ID:          w.ID,
		SubmittedBy: w.SubmittedBy,
		Data:        w.Data,
		History:     w.History,
		Version:     w.Version,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
	return nil
}

// CanView reports whether actor may read app: its submitter always can,
// anyone else needs view_clients.
func CanView(p Policy, actor Actor, app *Application) bool {
	if app.SubmittedBy != "" && app.SubmittedBy == actor.ID {
		return true
	}
	return p.HasPermission(actor.Role, CapViewClients)
}
