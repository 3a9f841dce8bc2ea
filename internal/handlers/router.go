package handlers

import (
	"net/http"
	"slices"

	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/middleware"
	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/services"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

// RouterConfig wires every handler.
type RouterConfig struct {
	DB          *gorm.DB
	Engine      *workflow.Engine
	Repository  *database.Repository
	Policy      *workflow.RolePolicy
	Hub         *notify.Hub
	Analytics   *services.AnalyticsService
	Users       *services.UserService
	JWTAuth     *middleware.JWTAuthMiddleware
	CORSOrigins []string
	Logger      *logger.Logger
}

// NewRouter returns the full middleware chain around every route.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	mux := http.NewServeMux()
	NewHTTPHandler(cfg.DB).SetupRoutes(mux)
	NewAuthHandler(cfg.JWTAuth, cfg.Users, cfg.Policy, log).SetupRoutes(mux)
	NewApplicationHandler(cfg.Engine, cfg.Repository, log).SetupRoutes(mux)
	NewReviewHandler(cfg.Policy, cfg.Repository, cfg.Analytics, cfg.Users, log).SetupRoutes(mux)
	NewEventsWSHandler(cfg.Engine, cfg.Hub, originChecker(cfg.CORSOrigins), log).SetupRoutes(mux)

	var h http.Handler = mux
	h = cfg.JWTAuth.Wrap(h)
	h = middleware.NewCORSMiddleware(cfg.CORSOrigins...).Wrap(h)
	h = middleware.AccessLog(log.With("service", "http"))(h)
	h = middleware.Recover(log)(h)
	return middleware.RequestIDMiddleware(h)
}

// originChecker mirrors the CORS allow-list for websocket upgrades. With no
// list, gorilla's same-origin check applies.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}
