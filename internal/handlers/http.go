package handlers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/database"
)

// Version is reported by /health and set at build time.
var Version = "dev"

// HTTPHandler serves unauthenticated operational endpoints.
type HTTPHandler struct {
	db     *gorm.DB
	outbox *database.OutboxStore
}

func NewHTTPHandler(db *gorm.DB) *HTTPHandler {
	h := &HTTPHandler{db: db}
	if db != nil {
		h.outbox = database.NewOutboxStore(db)
	}
	return h
}

func (h *HTTPHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
}

type healthResponse struct {
	Status  string                          `json:"status"`
	Version string                          `json:"version"`
	Outbox  map[database.OutboxStatus]int64 `json:"outbox,omitempty"`
}

// handleHealth reports ok when the database answers a ping, along with the
// notification backlog per outbox status.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: Version}
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			resp.Status, code = "degraded", http.StatusServiceUnavailable
		} else if counts, err := h.outbox.Counts(ctx); err == nil {
			resp.Outbox = counts
		}
	}
	api.RespondJSON(w, code, resp)
}
