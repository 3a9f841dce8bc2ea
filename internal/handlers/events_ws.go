package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// EventsWSHandler streams newly committed events of one application.
type EventsWSHandler struct {
	engine   *workflow.Engine
	hub      *notify.Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewEventsWSHandler builds the handler. checkOrigin may be nil to accept
// same-origin requests only.
func NewEventsWSHandler(engine *workflow.Engine, hub *notify.Hub, checkOrigin func(r *http.Request) bool, log *logger.Logger) *EventsWSHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EventsWSHandler{
		engine: engine,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: log.With("service", "EventsWS"),
	}
}

func (h *EventsWSHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/applications/{id}/events", h.handleEvents)
}

func (h *EventsWSHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	// Permission and existence are checked before the upgrade so that
	// errors still reach the client as JSON.
	if _, err := h.engine.Get(r.Context(), actor, id); err != nil {
		respondWorkflowError(w, r, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "application_id", id, "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(id)
	defer sub.Close()
	h.log.Debug("event stream opened", "application_id", id, "actor_id", actor.ID)

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("event stream write failed", "application_id", id, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			h.log.Debug("event stream closed by client", "application_id", id)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (h *EventsWSHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsWSHandler) closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}
