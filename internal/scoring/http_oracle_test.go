package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/creditdesk/internal/ratelimit"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

func transient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}

func TestHTTPOracleSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var data workflow.ApplicantData
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&data))
		assert.Equal(t, 250000.0, data.Revenues)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"probability":0.75,"shap_values":[{"feature":"debt_ratio","impact":-0.1,"value":0.2}],"risk_factors":[],"recommendations":["ok"]}`))
	}))
	defer srv.Close()

	res, err := NewHTTPOracle(srv.URL).Score(context.Background(), applicant())
	require.NoError(t, err)
	assert.Equal(t, 0.75, res.Probability)
	require.Len(t, res.ShapValues, 1)
	assert.Equal(t, "debt_ratio", res.ShapValues[0].Feature)
	assert.Equal(t, []string{"ok"}, res.Recommendations)
}

func TestHTTPOracleErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusNoContent, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPOracle(srv.URL).Score(context.Background(), applicant())
			require.Error(t, err)
			assert.Equal(t, tt.transient, transient(err), err.Error())
		})
	}
}

func TestHTTPOracleNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPOracle(url).Score(context.Background(), applicant())
	require.Error(t, err)
	assert.True(t, transient(err))
}

func TestHTTPOracleMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPOracle(srv.URL).Score(context.Background(), applicant())
	require.Error(t, err)
	assert.False(t, transient(err))
}

func TestHTTPOracleRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"probability":0.5}`))
	}))
	defer srv.Close()

	limiter := ratelimit.New(0.001, 1)
	oracle := NewHTTPOracle(srv.URL, WithLimiter(limiter))

	_, err := oracle.Score(context.Background(), applicant())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = oracle.Score(ctx, applicant())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPOracleWithEngine(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"probability":0.61}`))
	}))
	defer srv.Close()

	engine, err := workflow.NewEngine(workflow.Options{
		Repository: workflow.NewMemoryRepository(),
		Oracle:     NewHTTPOracle(srv.URL),
		Policy:     workflow.DefaultRolePolicy(),
	})
	require.NoError(t, err)

	res, err := engine.Submit(context.Background(), workflow.SubmitRequest{
		Actor: workflow.Actor{ID: "c1", Role: "client"},
		Data:  applicant(),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionAutoApproved, res.Application.CurrentDecision())
	assert.Equal(t, int32(2), hits.Load())
}
