package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

func dialEvents(t *testing.T, f *fixture, srv *httptest.Server, actor workflow.Actor, appID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, _, err := f.jwt.GenerateToken(actor.ID, actor.Role)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/applications/" + appID + "/events?access_token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	app := f.submit(client).Application
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := dialEvents(t, f, srv, client, app.ID)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Broadcast(notify.Message{Topic: "decision", ApplicationID: "someone-else", Kind: "AUTO_SCORE", Payload: json.RawMessage(`{}`)})
	f.hub.Broadcast(notify.Message{
		Topic:         "decision",
		ApplicationID: app.ID,
		RefID:         "evt-2",
		Kind:          string(workflow.EventManualOverride),
		Payload:       json.RawMessage(`{"decision":"MANUAL_APPROVED"}`),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg notify.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, app.ID, msg.ApplicationID)
	assert.Equal(t, "evt-2", msg.RefID)
	assert.JSONEq(t, `{"decision":"MANUAL_APPROVED"}`, string(msg.Payload))
}

func TestEventStream_ClosedOnShutdown(t *testing.T) {
	f := newFixture(t, nil)
	app := f.submit(client).Application
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn, _, err := dialEvents(t, f, srv, agent, app.ID)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEventStream_RejectedBeforeUpgrade(t *testing.T) {
	f := newFixture(t, nil)
	app := f.submit(client).Application
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := dialEvents(t, f, srv, client2, app.ID)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dialEvents(t, f, srv, agent, "missing")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, f.hub.Subscribers())
}
