package handlers

import (
	"errors"
	"net/http"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/middleware"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// respondWorkflowError maps engine errors onto HTTP statuses.
func respondWorkflowError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var (
		verr     *workflow.ValidationError
		perr     *workflow.PermissionDeniedError
		conflict *workflow.ConflictError
		scoring  *workflow.ScoringUnavailableError
	)
	switch {
	case errors.As(err, &verr):
		api.RespondValidationError(w, verr.Details())
	case errors.As(err, &perr):
		api.RespondErrorWithCode(w, http.StatusForbidden, "permission_denied",
			"Missing capability "+string(perr.Capability))
	case errors.Is(err, workflow.ErrNotFound):
		api.RespondErrorWithCode(w, http.StatusNotFound, "not_found", "Application not found")
	case errors.As(err, &conflict):
		if conflict.ActualVersion > 0 {
			w.Header().Set("ETag", api.ETag(conflict.ActualVersion))
		}
		api.RespondErrorWithCode(w, http.StatusConflict, "conflict",
			"Application was modified by someone else; reload and retry")
	case errors.As(err, &scoring):
		log.Warn("scoring unavailable", "request_id", middleware.GetRequestID(r.Context()), "attempts", scoring.Attempts, "error", scoring.Err)
		w.Header().Set("Retry-After", "5")
		api.RespondErrorWithCode(w, http.StatusServiceUnavailable, "scoring_unavailable",
			"Scoring service is unavailable, try again later")
	default:
		log.Error("request failed", "request_id", middleware.GetRequestID(r.Context()), "path", r.URL.Path, "error", err)
		api.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// actorFrom returns the authenticated actor or writes a 401.
func actorFrom(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok || actor.ID == "" {
		api.RespondErrorWithCode(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return workflow.Actor{}, false
	}
	return actor, true
}

// requireCapability writes a 403 unless actor holds capability.
func requireCapability(w http.ResponseWriter, p workflow.Policy, actor workflow.Actor, capability workflow.Capability) bool {
	if p.HasPermission(actor.Role, capability) {
		return true
	}
	api.RespondErrorWithCode(w, http.StatusForbidden, "permission_denied", "Missing capability "+string(capability))
	return false
}
