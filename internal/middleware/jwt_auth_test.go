package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

func newTestAuth() *JWTAuthMiddleware {
	return NewJWTAuthMiddleware(JWTAuthConfig{
		Secret:    "test-secret",
		Expiry:    time.Hour,
		SkipPaths: []string{"/health", "/auth/*"},
	}, nil)
}

func actorEcho(got *workflow.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := GetActorFromContext(r.Context()); ok {
			*got = a
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_TokenRoundTrip(t *testing.T) {
	m := newTestAuth()
	token, expires, err := m.GenerateToken("alice", "agent")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "agent", claims.Role)
	assert.Equal(t, "creditdesk", claims.Issuer)
}

func TestJWTAuth_RejectsBadTokens(t *testing.T) {
	m := newTestAuth()

	other := NewJWTAuthMiddleware(JWTAuthConfig{Secret: "other-secret"}, nil)
	foreign, _, err := other.GenerateToken("alice", "agent")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.Error(t, err, "token signed with another secret")

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := m.GenerateToken("alice", "agent")
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	noRole, _, err := m.GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = m.ValidateToken(noRole)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, UserClaims{Username: "alice", Role: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestJWTAuth_Wrap(t *testing.T) {
	m := newTestAuth()
	token, _, err := m.GenerateToken("bob", "manager")
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		header     string
		query      string
		upgrade    bool
		wantStatus int
		wantActor  workflow.Actor
	}{
		{name: "skip exact", path: "/health", wantStatus: http.StatusOK},
		{name: "skip prefix", path: "/auth/login", wantStatus: http.StatusOK},
		{name: "missing token", path: "/api/applications", wantStatus: http.StatusUnauthorized},
		{name: "bad token", path: "/api/applications", header: "Bearer garbage", wantStatus: http.StatusUnauthorized},
		{name: "bearer", path: "/api/applications", header: "Bearer " + token, wantStatus: http.StatusOK,
			wantActor: workflow.Actor{ID: "bob", Role: "manager"}},
		{name: "query token ignored without upgrade", path: "/api/applications", query: "?access_token=" + token,
			wantStatus: http.StatusUnauthorized},
		{name: "query token on websocket", path: "/ws/applications/a/events", query: "?access_token=" + token,
			upgrade: true, wantStatus: http.StatusOK, wantActor: workflow.Actor{ID: "bob", Role: "manager"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got workflow.Actor
			req := httptest.NewRequest(http.MethodGet, tt.path+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			w := httptest.NewRecorder()
			m.Wrap(actorEcho(&got)).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantActor, got)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}
