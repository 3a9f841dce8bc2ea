package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// fakeSlack records chat.postMessage calls and serves a fixed channel list.
type fakeSlack struct {
	mu    sync.Mutex
	posts []map[string]string
	lists int
}

func (f *fakeSlack) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.posts = append(f.posts, map[string]string{
			"channel": r.FormValue("channel"),
			"text":    r.FormValue("text"),
			"blocks":  r.FormValue("blocks"),
		})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C0REVIEWS1","ts":"1.0"}`))
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lists++
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C0REVIEWS1","name":"credit-reviews"}],"response_metadata":{"next_cursor":""}}`))
	})
	return mux
}

func newSlackNotifier(t *testing.T, f *fakeSlack) *SlackNotifier {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return NewSlackNotifier(client, "#credit-reviews", "C0CONTEST1", nil)
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSlackNotifierPostsOverrides(t *testing.T) {
	f := &fakeSlack{}
	n := newSlackNotifier(t, f)

	ev := workflow.Event{
		ID: "e2", ApplicationID: "app-1", Seq: 2, Kind: workflow.EventManualOverride,
		ActorID: "agent-1", ActorRole: "agent", Justification: "Client debt ratio exceeds policy",
		PriorDecision: workflow.DecisionAutoApproved, Decision: workflow.DecisionManualRejected, Score: 0.75,
		Override: &workflow.OverridePayload{Action: workflow.ActionReject, ReasonCode: "high_debt_ratio"},
	}
	msg := Message{ApplicationID: "app-1", RefID: ev.ID, Kind: string(ev.Kind), Payload: payload(t, ev)}

	require.NoError(t, n.Notify(context.Background(), msg))
	require.NoError(t, n.Notify(context.Background(), msg))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.posts, 2)
	assert.Equal(t, "C0REVIEWS1", f.posts[0]["channel"])
	assert.Contains(t, f.posts[0]["text"], "MANUAL_REJECTED")
	assert.Contains(t, f.posts[0]["blocks"], "high_debt_ratio")
	assert.Contains(t, f.posts[0]["blocks"], "75.0%")
	assert.Equal(t, 1, f.lists, "channel name should be resolved once")
}

func TestSlackNotifierPostsContestations(t *testing.T) {
	f := &fakeSlack{}
	n := newSlackNotifier(t, f)

	adj := 4
	c := workflow.Contestation{
		ID: "c1", ApplicationID: "app-1", ActorID: "client-1", ActorRole: "client", ReasonCode: "score_error",
		Justification: "Wrong revenues", ProposedScoreAdjustment: &adj, Status: workflow.ContestationPending,
		DecisionAtFiling: workflow.DecisionAutoRejected, ScoreAtFiling: 0.4,
	}
	msg := Message{ApplicationID: "app-1", RefID: c.ID, Kind: string(workflow.EventContestation), Payload: payload(t, c)}
	require.NoError(t, n.Notify(context.Background(), msg))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.posts, 1)
	assert.Equal(t, "C0CONTEST1", f.posts[0]["channel"])
	assert.Contains(t, f.posts[0]["blocks"], "+4")
	assert.Zero(t, f.lists)
}

func TestSlackNotifierSkipsAutomaticEvents(t *testing.T) {
	f := &fakeSlack{}
	n := newSlackNotifier(t, f)

	for _, kind := range []workflow.EventKind{workflow.EventAutoScore, workflow.EventDataCorrection} {
		require.NoError(t, n.Notify(context.Background(), Message{Kind: string(kind), Payload: json.RawMessage(`{}`)}))
	}
	assert.Empty(t, f.posts)
}

func TestSlackNotifierRejectsBadPayload(t *testing.T) {
	n := newSlackNotifier(t, &fakeSlack{})
	err := n.Notify(context.Background(), Message{Kind: string(workflow.EventManualOverride), Payload: json.RawMessage(`{"override":null}`)})
	assert.Error(t, err)
}

func TestIsChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"C01234567890", true},
		{"C0ABC123DEF", true},
		{"C012345678901234", false},
		{"C1234567", false},
		{"D01234567890", false},
		{"C01234abcdef", false},
		{"#alerts", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isChannelID(tt.in), tt.in)
	}
}
