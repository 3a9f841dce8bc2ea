package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"action":"approve","reason_code":"other","justification":"x"}`, ""},
		{"empty", ``, "request body is empty"},
		{"malformed", `{"action":`, "invalid JSON"},
		{"syntax", `{"action" "x"}`, "malformed JSON"},
		{"wrong type", `{"action":1}`, `invalid value for field "action"`},
		{"unknown field", `{"decision":"x"}`, `unknown field "decision"`},
		{"trailing object", `{"action":"approve"}{"action":"reject"}`, "single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst OverrideRequest
			err := DecodeJSON(r, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "approve", dst.Action)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	body := `{"justification":"` + strings.Repeat("a", MaxBodySize) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dst OverrideRequest
	err := DecodeJSON(r, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum size")
}

func TestExpectedVersion(t *testing.T) {
	five := int64(5)
	tests := []struct {
		name    string
		header  string
		body    *int64
		want    int64
		wantErr bool
	}{
		{"nothing", "", nil, 0, false},
		{"body", "", &five, 5, false},
		{"quoted header", `"3"`, &five, 3, false},
		{"weak header", `W/"7"`, nil, 7, false},
		{"bare header", `9`, nil, 9, false},
		{"wildcard", `*`, &five, 5, false},
		{"garbage", `"abc"`, nil, 0, true},
		{"zero", `"0"`, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				r.Header.Set("If-Match", tt.header)
			}
			got, err := ExpectedVersion(r, tt.body)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestETag(t *testing.T) {
	assert.Equal(t, `"12"`, ETag(12))
}
