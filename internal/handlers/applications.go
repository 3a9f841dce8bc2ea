package handlers

import (
	"net/http"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// ApplicationHandler exposes the decision workflow over HTTP.
type ApplicationHandler struct {
	engine *workflow.Engine
	repo   *database.Repository
	log    *logger.Logger
}

func NewApplicationHandler(engine *workflow.Engine, repo *database.Repository, log *logger.Logger) *ApplicationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ApplicationHandler{engine: engine, repo: repo, log: log.With("service", "ApplicationHandler")}
}

func (h *ApplicationHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/applications", h.handleList)
	mux.HandleFunc("POST /api/applications", h.handleSubmit)
	mux.HandleFunc("GET /api/applications/{id}", h.handleGet)
	mux.HandleFunc("GET /api/applications/{id}/history", h.handleHistory)
	mux.HandleFunc("POST /api/applications/{id}/override", h.handleOverride)
	mux.HandleFunc("POST /api/applications/{id}/corrections", h.handleCorrection)
	mux.HandleFunc("GET /api/applications/{id}/contestations", h.handleListContestations)
	mux.HandleFunc("POST /api/applications/{id}/contestations", h.handleContest)
}

// handleList shows everything to view_clients holders and only the
// caller's own applications to everyone else.
func (h *ApplicationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	filter := database.ApplicationFilter{}
	if d := r.URL.Query().Get("decision"); d != "" {
		filter.Decision = workflow.Decision(d)
		if !filter.Decision.Valid() {
			api.RespondValidationError(w, map[string]string{"decision": "unknown decision " + d})
			return
		}
	}
	if !h.engine.Policy().HasPermission(actor.Role, workflow.CapViewClients) {
		filter.SubmittedBy = actor.ID
	}

	page := api.ParsePagination(r)
	recs, total, err := h.repo.ListApplications(r.Context(), filter, page.PerPage, page.Offset())
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, page.Paginate(api.ApplicationRecordsToListItems(recs), total))
}

func (h *ApplicationHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req api.SubmitApplicationRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Submit(r.Context(), workflow.SubmitRequest{Actor: actor, Data: req.ApplicantData})
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	w.Header().Set("Location", "/api/applications/"+res.Application.ID)
	respondResult(w, http.StatusCreated, res)
}

func (h *ApplicationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	app, err := h.engine.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	w.Header().Set("ETag", api.ETag(app.Version))
	api.RespondJSON(w, http.StatusOK, api.ApplicationToResponse(app))
}

func (h *ApplicationHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	events, err := h.engine.History(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"data": events})
}

func (h *ApplicationHandler) handleOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req api.OverrideRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	expected, ok := expectedVersion(w, r, req.ExpectedVersion)
	if !ok {
		return
	}

	res, err := h.engine.Override(r.Context(), workflow.OverrideRequest{
		ApplicationID:   r.PathValue("id"),
		Actor:           actor,
		Action:          workflow.OverrideAction(req.Action),
		ReasonCode:      req.ReasonCode,
		Justification:   req.Justification,
		ExpectedVersion: expected,
	})
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	respondResult(w, http.StatusOK, res)
}

func (h *ApplicationHandler) handleCorrection(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req api.CorrectionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	expected, ok := expectedVersion(w, r, req.ExpectedVersion)
	if !ok {
		return
	}

	res, err := h.engine.CorrectData(r.Context(), workflow.CorrectionRequest{
		ApplicationID:   r.PathValue("id"),
		Actor:           actor,
		Data:            req.Data,
		Justification:   req.Justification,
		ExpectedVersion: expected,
	})
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	respondResult(w, http.StatusOK, res)
}

func (h *ApplicationHandler) handleListContestations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	list, err := h.engine.Contestations(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	if list == nil {
		list = []workflow.Contestation{}
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"data": list})
}

func (h *ApplicationHandler) handleContest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req api.ContestRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	c, err := h.engine.Contest(r.Context(), workflow.ContestRequest{
		ApplicationID:           r.PathValue("id"),
		Actor:                   actor,
		ReasonCode:              req.ReasonCode,
		Justification:           req.Justification,
		ProposedScoreAdjustment: req.ProposedAdjustment,
		Evidence:                req.Evidence,
	})
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, c)
}

func expectedVersion(w http.ResponseWriter, r *http.Request, body *int64) (int64, bool) {
	v, err := api.ExpectedVersion(r, body)
	if err != nil {
		api.RespondValidationError(w, map[string]string{"expected_version": err.Error()})
		return 0, false
	}
	return v, true
}

func respondResult(w http.ResponseWriter, status int, res *workflow.Result) {
	w.Header().Set("ETag", api.ETag(res.Application.Version))
	api.RespondJSON(w, status, api.ResultToResponse(res))
}
