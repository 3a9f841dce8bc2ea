package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/creditdesk/creditdesk/internal/logger"
)

// MinCorrectionJustification is the shortest justification, in characters,
// accepted for a data correction.
const MinCorrectionJustification = 10

// Default scoring behavior when Options leaves it unset.
const (
	DefaultScoringTimeout = 5 * time.Second
	DefaultScoringRetries = 1
)

// Repository persists applications and their histories.
//
// Commit must be atomic: either every event, audit record and the new
// application state are stored, or none are. An ExpectedVersion of zero
// means the application is new.
type Repository interface {
	Get(ctx context.Context, id string) (*Application, error)
	Commit(ctx context.Context, c Commit) error
	AddContestation(ctx context.Context, c Contestation, audit AuditRecord) error
	ListContestations(ctx context.Context, applicationID string) ([]Contestation, error)
}

// Commit is one all-or-nothing write of an application and its new events.
type Commit struct {
	Application     *Application
	ExpectedVersion int64
	Events          []Event
	Audit           []AuditRecord
}

// Options configures an Engine. Repository, Oracle and Policy are required.
type Options struct {
	Repository     Repository
	Oracle         Oracle
	Policy         Policy
	Logger         *logger.Logger
	Tracer         trace.Tracer
	Now            func() time.Time
	NewID          func() string
	ScoringTimeout time.Duration
	// ScoringRetries is the number of extra attempts after a transient
	// failure. Zero selects the default; a negative value disables retries.
	ScoringRetries int
}

// Engine runs the decision workflow for credit applications.
type Engine struct {
	repo    Repository
	oracle  Oracle
	policy  Policy
	log     *logger.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
	timeout time.Duration
	retries int
}

// NewEngine validates opts and fills in defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Repository == nil {
		return nil, errors.New("workflow: repository is required")
	}
	if opts.Oracle == nil {
		return nil, errors.New("workflow: oracle is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("workflow: policy is required")
	}
	e := &Engine{
		repo:    opts.Repository,
		oracle:  opts.Oracle,
		policy:  opts.Policy,
		log:     opts.Logger,
		tracer:  opts.Tracer,
		now:     opts.Now,
		newID:   opts.NewID,
		timeout: opts.ScoringTimeout,
		retries: opts.ScoringRetries,
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	e.log = e.log.With("service", "Engine")
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/creditdesk/creditdesk/internal/workflow")
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.timeout <= 0 {
		e.timeout = DefaultScoringTimeout
	}
	if e.retries < 0 {
		e.retries = 0
	} else if opts.ScoringRetries == 0 {
		e.retries = DefaultScoringRetries
	}
	return e, nil
}

// Policy returns the permission policy the engine enforces.
func (e *Engine) Policy() Policy { return e.policy }

// Result is the outcome of a mutating operation: the committed application
// and the events the operation appended.
type Result struct {
	Application *Application
	Events      []Event
}

// SubmitRequest creates a new application.
type SubmitRequest struct {
	Actor Actor
	Data  ApplicantData
}

// OverrideRequest replaces the current decision by hand.
// ExpectedVersion, when non-zero, must match the stored version.
type OverrideRequest struct {
	ApplicationID   string
	Actor           Actor
	Action          OverrideAction
	ReasonCode      string
	Justification   string
	ExpectedVersion int64
}

// CorrectionRequest replaces the applicant data and re-scores it.
type CorrectionRequest struct {
	ApplicationID   string
	Actor           Actor
	Data            ApplicantData
	Justification   string
	ExpectedVersion int64
}

// ContestRequest files a contestation against the current decision.
type ContestRequest struct {
	ApplicationID           string
	Actor                   Actor
	ReasonCode              string
	Justification           string
	ProposedScoreAdjustment *int
	Evidence                []string
}

// Submit validates the data, scores it and records the first AUTO_SCORE event.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Submit")
	defer span.End()

	if err := req.Data.Validate(); err != nil {
		return nil, err
	}
	if err := e.require(req.Actor, CapSubmitApplication); err != nil {
		return nil, err
	}

	scored, err := e.score(ctx, req.Data)
	if err != nil {
		e.log.Warn("scoring failed on submission", "actor_id", req.Actor.ID, "error", err)
		return nil, err
	}

	now := e.now().UTC()
	app := &Application{
		ID:          e.newID(),
		SubmittedBy: req.Actor.ID,
		Data:        req.Data,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ev := e.autoScoreEvent(app, scored, now)
	app.History = append(app.History, ev)

	if err := e.commit(ctx, app, 0, []Event{ev}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("application.id", app.ID), attribute.String("decision", string(ev.Decision)))
	e.log.Info("application submitted",
		"application_id", app.ID,
		"actor_id", req.Actor.ID,
		"decision", ev.Decision,
		"score", ev.Score,
	)
	return &Result{Application: app, Events: []Event{ev}}, nil
}

// Override records a manual decision. The score is carried over unchanged.
func (e *Engine) Override(ctx context.Context, req OverrideRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Override",
		trace.WithAttributes(attribute.String("application.id", req.ApplicationID)))
	defer span.End()

	justification := strings.TrimSpace(req.Justification)
	target, err := validateOverride(req.Action, req.ReasonCode, justification)
	if err != nil {
		return nil, err
	}
	capability := CapApproveWithoutValidation
	if req.Action == ActionReevaluate {
		capability = CapEditApplication
	}
	if err := e.require(req.Actor, capability); err != nil {
		return nil, err
	}

	app, err := e.load(ctx, req.ApplicationID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	expected := app.Version
	ts := e.nextTimestamp(app)
	ev := Event{
		ID:            e.newID(),
		ApplicationID: app.ID,
		Seq:           len(app.History) + 1,
		Kind:          EventManualOverride,
		ActorID:       req.Actor.ID,
		ActorRole:     req.Actor.Role,
		Justification: justification,
		Timestamp:     ts,
		PriorDecision: app.CurrentDecision(),
		PriorScore:    app.CurrentScore(),
		Decision:      target,
		Score:         app.CurrentScore(),
		Override:      &OverridePayload{Action: req.Action, ReasonCode: req.ReasonCode},
	}
	app.History = append(app.History, ev)
	app.Version++
	app.UpdatedAt = ts

	if err := e.commit(ctx, app, expected, []Event{ev}); err != nil {
		return nil, err
	}
	e.log.Info("decision overridden",
		"application_id", app.ID,
		"actor_id", req.Actor.ID,
		"action", req.Action,
		"reason_code", req.ReasonCode,
		"from", ev.PriorDecision,
		"to", ev.Decision,
	)
	return &Result{Application: app, Events: []Event{ev}}, nil
}

func validateOverride(action OverrideAction, reasonCode, justification string) (Decision, error) {
	verr := &ValidationError{}
	target, ok := action.Target()
	if !ok {
		verr.Add("action", "must be one of: approve, reject, reevaluate")
	}
	switch {
	case reasonCode == "":
		verr.Add("reason_code", "is required")
	case ok && !ValidOverrideReason(action, reasonCode):
		verr.Add("reason_code", fmt.Sprintf("%q is not a valid reason for %s", reasonCode, action))
	}
	if justification == "" {
		verr.Add("justification", "is required")
	}
	if !verr.Empty() {
		return "", verr
	}
	return target, nil
}

// CorrectData replaces the applicant data, re-scores it and appends a
// DATA_CORRECTION event followed by the resulting AUTO_SCORE event. Both
// events are committed together or not at all.
func (e *Engine) CorrectData(ctx context.Context, req CorrectionRequest) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.CorrectData",
		trace.WithAttributes(attribute.String("application.id", req.ApplicationID)))
	defer span.End()

	justification := strings.TrimSpace(req.Justification)
	verr := &ValidationError{}
	if utf8.RuneCountInString(justification) < MinCorrectionJustification {
		verr.Add("justification", fmt.Sprintf("must be at least %d characters", MinCorrectionJustification))
	}
	if err := req.Data.Validate(); err != nil {
		var dataErr *ValidationError
		if !errors.As(err, &dataErr) {
			return nil, err
		}
		verr.Fields = append(verr.Fields, dataErr.Fields...)
	}
	if !verr.Empty() {
		return nil, verr
	}
	if err := e.require(req.Actor, CapEditApplication); err != nil {
		return nil, err
	}

	app, err := e.load(ctx, req.ApplicationID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	changes := Diff(app.Data, req.Data)
	if len(changes) == 0 {
		return nil, NewValidationError("data", "no changes")
	}

	scored, err := e.score(ctx, req.Data)
	if err != nil {
		e.log.Warn("scoring failed on correction", "application_id", app.ID, "error", err)
		return nil, err
	}

	expected := app.Version
	ts := e.nextTimestamp(app)
	correction := Event{
		ID:            e.newID(),
		ApplicationID: app.ID,
		Seq:           len(app.History) + 1,
		Kind:          EventDataCorrection,
		ActorID:       req.Actor.ID,
		ActorRole:     req.Actor.Role,
		Justification: justification,
		Timestamp:     ts,
		PriorDecision: app.CurrentDecision(),
		PriorScore:    app.CurrentScore(),
		Decision:      app.CurrentDecision(),
		Score:         app.CurrentScore(),
		Correction:    &CorrectionPayload{Data: req.Data, Changes: changes},
	}
	app.History = append(app.History, correction)
	app.Data = req.Data

	rescore := e.autoScoreEvent(app, scored, ts)
	app.History = append(app.History, rescore)
	app.Version++
	app.UpdatedAt = ts

	events := []Event{correction, rescore}
	if err := e.commit(ctx, app, expected, events); err != nil {
		return nil, err
	}
	e.log.Info("applicant data corrected",
		"application_id", app.ID,
		"actor_id", req.Actor.ID,
		"changed_fields", len(changes),
		"from", correction.PriorDecision,
		"to", rescore.Decision,
		"score", rescore.Score,
	)
	return &Result{Application: app, Events: events}, nil
}

// Contest queues a contestation. The application and its history are left untouched.
func (e *Engine) Contest(ctx context.Context, req ContestRequest) (*Contestation, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Contest",
		trace.WithAttributes(attribute.String("application.id", req.ApplicationID)))
	defer span.End()

	justification := strings.TrimSpace(req.Justification)
	evidence := make([]string, 0, len(req.Evidence))
	for _, ref := range req.Evidence {
		if ref = strings.TrimSpace(ref); ref != "" {
			evidence = append(evidence, ref)
		}
	}

	verr := &ValidationError{}
	if req.ReasonCode == "" {
		verr.Add("reason_code", "is required")
	} else if known, needsEvidence := ContestationReason(req.ReasonCode); !known {
		verr.Add("reason_code", fmt.Sprintf("%q is not a valid contestation reason", req.ReasonCode))
	} else if needsEvidence && len(evidence) == 0 {
		verr.Add("evidence", "is required for reason "+req.ReasonCode)
	}
	if justification == "" {
		verr.Add("justification", "is required")
	}
	if !verr.Empty() {
		return nil, verr
	}
	if err := e.require(req.Actor, CapContestDecision); err != nil {
		return nil, err
	}

	app, err := e.Get(ctx, req.Actor, req.ApplicationID)
	if err != nil {
		return nil, err
	}

	c := Contestation{
		ID:                      e.newID(),
		ApplicationID:           app.ID,
		ActorID:                 req.Actor.ID,
		ActorRole:               req.Actor.Role,
		ReasonCode:              req.ReasonCode,
		Justification:           justification,
		ProposedScoreAdjustment: req.ProposedScoreAdjustment,
		Status:                  ContestationPending,
		DecisionAtFiling:        app.CurrentDecision(),
		ScoreAtFiling:           app.CurrentScore(),
		CreatedAt:               e.now().UTC(),
	}
	if len(evidence) > 0 {
		c.Evidence = evidence
	}

	if err := e.repo.AddContestation(context.WithoutCancel(ctx), c, auditForContestation(c)); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to record contestation: %w", err)
	}
	e.log.Info("decision contested",
		"application_id", app.ID,
		"contestation_id", c.ID,
		"actor_id", req.Actor.ID,
		"reason_code", c.ReasonCode,
	)
	return &c, nil
}

// Get returns an application the actor is allowed to see. Applications the
// actor may not view are reported as ErrNotFound so their ids stay private.
func (e *Engine) Get(ctx context.Context, actor Actor, id string) (*Application, error) {
	app, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(e.policy, actor, app) {
		return nil, ErrNotFound
	}
	return app, nil
}

// History returns the decision history of an application the actor may see.
func (e *Engine) History(ctx context.Context, actor Actor, id string) ([]Event, error) {
	app, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return app.History, nil
}

// Contestations lists the contestations filed against an application.
func (e *Engine) Contestations(ctx context.Context, actor Actor, id string) ([]Contestation, error) {
	if _, err := e.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return e.repo.ListContestations(ctx, id)
}

func (e *Engine) require(actor Actor, capability Capability) error {
	if e.policy.HasPermission(actor.Role, capability) {
		return nil
	}
	return &PermissionDeniedError{ActorID: actor.ID, Role: actor.Role, Capability: capability}
}

func (e *Engine) load(ctx context.Context, id string, expectedVersion int64) (*Application, error) {
	app, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && expectedVersion != app.Version {
		return nil, &ConflictError{ApplicationID: id, ExpectedVersion: expectedVersion, ActualVersion: app.Version}
	}
	return app, nil
}

// nextTimestamp never goes back in time relative to the last event.
func (e *Engine) nextTimestamp(app *Application) time.Time {
	ts := e.now().UTC()
	if last := app.Last(); last != nil && ts.Before(last.Timestamp) {
		return last.Timestamp
	}
	return ts
}

func (e *Engine) autoScoreEvent(app *Application, scored ScoreResult, ts time.Time) Event {
	ev := Event{
		ID:            e.newID(),
		ApplicationID: app.ID,
		Seq:           len(app.History) + 1,
		Kind:          EventAutoScore,
		ActorID:       System.ID,
		ActorRole:     System.Role,
		Timestamp:     ts,
		Decision:      DecideAutomatic(scored.Probability),
		Score:         scored.Probability,
		AutoScore: &AutoScorePayload{
			Probability:     scored.Probability,
			Confidence:      ConfidenceFor(scored.Probability),
			ShapValues:      scored.ShapValues,
			RiskFactors:     scored.RiskFactors,
			Recommendations: scored.Recommendations,
		},
	}
	if last := app.Last(); last != nil {
		ev.PriorDecision = last.Decision
		ev.PriorScore = last.Score
	}
	return ev
}

// commit stores the new state. It runs detached from cancellation so a
// write that has started is never abandoned half way.
func (e *Engine) commit(ctx context.Context, app *Application, expected int64, events []Event) error {
	ctx, span := e.tracer.Start(context.WithoutCancel(ctx), "workflow.commit")
	defer span.End()

	if err := app.CheckHistory(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("refusing to commit inconsistent history: %w", err)
	}
	audit := make([]AuditRecord, 0, len(events))
	for _, ev := range events {
		audit = append(audit, auditForEvent(ev))
	}
	err := e.repo.Commit(ctx, Commit{
		Application:     app,
		ExpectedVersion: expected,
		Events:          events,
		Audit:           audit,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrConflict) {
			e.log.Warn("concurrent modification rejected", "application_id", app.ID, "expected_version", expected)
			return err
		}
		return fmt.Errorf("failed to commit application %s: %w", app.ID, err)
	}
	return nil
}

// score calls the oracle with a per-attempt timeout and retries transient
// failures. A cancelled caller context stops further attempts.
func (e *Engine) score(ctx context.Context, data ApplicantData) (ScoreResult, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.score")
	defer span.End()

	attempts := e.retries + 1
	var lastErr error
	for i := 1; i <= attempts; i++ {
		res, err := e.scoreOnce(ctx, data)
		if err == nil {
			span.SetAttributes(attribute.Float64("probability", res.Probability), attribute.Int("attempts", i))
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			attempts = i
			break
		}
		if !isTransient(err) {
			attempts = i
			break
		}
		e.log.Debug("transient scoring failure", "attempt", i, "error", err)
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "scoring unavailable")
	return ScoreResult{}, &ScoringUnavailableError{Attempts: attempts, Err: lastErr}
}

func (e *Engine) scoreOnce(ctx context.Context, data ApplicantData) (ScoreResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	res, err := e.oracle.Score(attemptCtx, data)
	if err != nil {
		return ScoreResult{}, err
	}
	if err := res.check(); err != nil {
		return ScoreResult{}, err
	}
	return res, nil
}
