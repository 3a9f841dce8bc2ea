package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/middleware"
	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/services"
	"github.com/creditdesk/creditdesk/internal/testhelpers"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

var (
	client  = workflow.Actor{ID: "client-1", Role: "client"}
	client2 = workflow.Actor{ID: "client-2", Role: "client"}
	agent   = workflow.Actor{ID: "agent-1", Role: "agent"}
	manager = workflow.Actor{ID: "manager-1", Role: "manager"}
	admin   = workflow.Actor{ID: "admin", Role: "admin"}
)

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	repo   *database.Repository
	engine *workflow.Engine
	hub    *notify.Hub
	users  *services.UserService
	jwt    *middleware.JWTAuthMiddleware
	router http.Handler
}

func newFixture(t *testing.T, oracle workflow.Oracle) *fixture {
	t.Helper()
	if oracle == nil {
		oracle = testhelpers.FixedOracle(0.85)
	}
	db := testhelpers.SetupTestDB(t)
	repo := database.NewRepository(db)
	policy := workflow.DefaultRolePolicy()
	f := &fixture{
		t:      t,
		db:     db,
		repo:   repo,
		engine: testhelpers.NewEngine(t, repo, oracle),
		hub:    notify.NewHub(nil),
		users:  services.NewUserService(db, policy),
		jwt: middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
			Secret:    "handler-test-secret",
			Expiry:    time.Hour,
			SkipPaths: []string{"/health", "/auth/login"},
		}, nil),
	}
	t.Cleanup(f.hub.Close)
	f.router = NewRouter(RouterConfig{
		DB:         db,
		Engine:     f.engine,
		Repository: repo,
		Policy:     policy,
		Hub:        f.hub,
		Analytics:  services.NewAnalyticsService(db),
		Users:      f.users,
		JWTAuth:    f.jwt,
	})
	return f
}

// do sends a request through the full router with a signed token for actor.
func (f *fixture) do(method, path string, actor *workflow.Actor, body interface{}) *testhelpers.HTTPTestContext {
	f.t.Helper()
	ctx := testhelpers.NewHTTPTestContext(f.t, method, path, nil)
	if body != nil {
		ctx.WithJSONBody(body)
	}
	if actor != nil {
		token, _, err := f.jwt.GenerateToken(actor.ID, actor.Role)
		require.NoError(f.t, err)
		ctx.WithBearerToken(token)
	}
	return ctx.Execute(f.router)
}

func (f *fixture) submit(actor workflow.Actor) *workflow.Result {
	f.t.Helper()
	res, err := f.engine.Submit(context.Background(), workflow.SubmitRequest{
		Actor: actor,
		Data:  testhelpers.NewApplicantDataBuilder().Build(),
	})
	require.NoError(f.t, err)
	return res
}

func decodeCommand(ctx *testhelpers.HTTPTestContext) api.CommandResponse {
	var resp api.CommandResponse
	ctx.DecodeJSON(&resp)
	return resp
}

// applicationMux serves the application routes without the auth chain,
// for requests whose actor is attached with AsActor.
func (f *fixture) applicationMux() http.Handler {
	mux := http.NewServeMux()
	NewApplicationHandler(f.engine, f.repo, nil).SetupRoutes(mux)
	return mux
}
