package handlers

import (
	"errors"
	"net/http"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/middleware"
	"github.com/creditdesk/creditdesk/internal/services"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	jwtAuth *middleware.JWTAuthMiddleware
	users   *services.UserService
	policy  *workflow.RolePolicy
	log     *logger.Logger
}

func NewAuthHandler(jwtAuth *middleware.JWTAuthMiddleware, users *services.UserService, policy *workflow.RolePolicy, log *logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthHandler{jwtAuth: jwtAuth, users: users, policy: policy, log: log.With("service", "AuthHandler")}
}

// SetupRoutes sets up authentication routes
func (h *AuthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.handleVerify)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		h.log.Warn("failed login attempt", "username", req.Username, "remote_addr", r.RemoteAddr)
		api.RespondErrorWithCode(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}
	if err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}
	if !h.policy.HasRole(user.Role) {
		h.log.Warn("login for user with unknown role", "username", user.Username, "role", user.Role)
		api.RespondErrorWithCode(w, http.StatusForbidden, "unknown_role", "User role is not defined in the policy")
		return
	}

	token, expires, err := h.jwtAuth.GenerateToken(user.Username, user.Role)
	if err != nil {
		h.log.Error("failed to sign token", "username", user.Username, "error", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	h.log.Info("user logged in", "username", user.Username, "role", user.Role)

	api.RespondJSON(w, http.StatusOK, api.LoginResponse{
		Token:        token,
		Username:     user.Username,
		Role:         user.Role,
		Capabilities: h.policy.Capabilities(user.Role),
		ExpiresAt:    expires,
	})
}

// handleVerify echoes the identity behind the presented token.
func (h *AuthHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":        true,
		"username":     actor.ID,
		"role":         actor.Role,
		"capabilities": h.policy.Capabilities(actor.Role),
	})
}
