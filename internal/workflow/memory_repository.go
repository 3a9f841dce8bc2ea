package workflow

import (
	"context"
	"sync"
)

// MemoryRepository keeps applications in process memory. It honors the same
// versioning rules as the database repository and is used in tests and
// single-process demos.
type MemoryRepository struct {
	mu            sync.RWMutex
	apps          map[string]*Application
	contestations map[string][]Contestation
	audit         []AuditRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		apps:          make(map[string]*Application),
		contestations: make(map[string][]Contestation),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneApplication(app), nil
}

func (r *MemoryRepository) Commit(ctx context.Context, c Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.apps[c.Application.ID]
	switch {
	case c.ExpectedVersion == 0 && exists:
		return &ConflictError{ApplicationID: c.Application.ID, ExpectedVersion: 0, ActualVersion: current.Version}
	case c.ExpectedVersion != 0 && !exists:
		return ErrNotFound
	case exists && current.Version != c.ExpectedVersion:
		return &ConflictError{ApplicationID: c.Application.ID, ExpectedVersion: c.ExpectedVersion, ActualVersion: current.Version}
	}

	r.apps[c.Application.ID] = cloneApplication(c.Application)
	r.audit = append(r.audit, c.Audit...)
	return nil
}

func (r *MemoryRepository) AddContestation(ctx context.Context, c Contestation, audit AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[c.ApplicationID]; !ok {
		return ErrNotFound
	}
	r.contestations[c.ApplicationID] = append(r.contestations[c.ApplicationID], c)
	r.audit = append(r.audit, audit)
	return nil
}

func (r *MemoryRepository) ListContestations(ctx context.Context, applicationID string) ([]Contestation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contestation, len(r.contestations[applicationID]))
	copy(out, r.contestations[applicationID])
	return out, nil
}

// AuditTrail returns every audit record committed so far, in commit order.
func (r *MemoryRepository) AuditTrail() []AuditRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AuditRecord, len(r.audit))
	copy(out, r.audit)
	return out
}

// Event payloads are never mutated after creation, so copying the history
// slice is enough to isolate callers from the stored state.
func cloneApplication(app *Application) *Application {
	cp := *app
	cp.History = make([]Event, len(app.History))
	copy(cp.History, app.History)
	return &cp
}
