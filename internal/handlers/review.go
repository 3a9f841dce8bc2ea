package handlers

import (
	"errors"
	"net/http"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/services"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// ReviewHandler serves the back-office read side and user management.
type ReviewHandler struct {
	policy    workflow.Policy
	repo      *database.Repository
	analytics *services.AnalyticsService
	users     *services.UserService
	log       *logger.Logger
}

func NewReviewHandler(policy workflow.Policy, repo *database.Repository, analytics *services.AnalyticsService, users *services.UserService, log *logger.Logger) *ReviewHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ReviewHandler{policy: policy, repo: repo, analytics: analytics, users: users, log: log.With("service", "ReviewHandler")}
}

func (h *ReviewHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/contestations", h.handleContestationQueue)
	mux.HandleFunc("GET /api/audit", h.handleAudit)
	mux.HandleFunc("GET /api/analytics/summary", h.handleAnalytics)
	mux.HandleFunc("GET /api/users", h.handleListUsers)
	mux.HandleFunc("POST /api/users", h.handleCreateUser)
}

// handleContestationQueue lists contestations by status, pending by default.
func (h *ReviewHandler) handleContestationQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok || !requireCapability(w, h.policy, actor, workflow.CapViewClients) {
		return
	}
	status := workflow.ContestationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = workflow.ContestationPending
	}
	page := api.ParsePagination(r)
	list, total, err := h.repo.ContestationQueue(r.Context(), status, page.PerPage, page.Offset())
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, page.Paginate(list, total))
}

func (h *ReviewHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok || !requireCapability(w, h.policy, actor, workflow.CapViewAudit) {
		return
	}
	q := r.URL.Query()
	filter := database.AuditFilter{ApplicationID: q.Get("application_id"), ActorID: q.Get("actor_id")}
	page := api.ParsePagination(r)
	entries, total, err := h.repo.ListAudit(r.Context(), filter, page.PerPage, page.Offset())
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, page.Paginate(entries, total))
}

func (h *ReviewHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok || !requireCapability(w, h.policy, actor, workflow.CapViewAnalytics) {
		return
	}
	summary, err := h.analytics.Summary(r.Context())
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, summary)
}

func (h *ReviewHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok || !requireCapability(w, h.policy, actor, workflow.CapManageUsers) {
		return
	}
	users, err := h.users.List(r.Context())
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{"data": api.UsersToResponses(users)})
}

func (h *ReviewHandler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok || !requireCapability(w, h.policy, actor, workflow.CapManageUsers) {
		return
	}
	var req api.CreateUserRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}
	user, err := h.users.Create(r.Context(), req.Username, req.Password, req.Role)
	if errors.Is(err, services.ErrUserExists) {
		api.RespondErrorWithCode(w, http.StatusConflict, "user_exists", "Username is already taken")
		return
	}
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	h.log.Info("user created", "username", user.Username, "role", user.Role, "by", actor.ID)
	api.RespondJSON(w, http.StatusCreated, api.UserToResponse(*user))
}
