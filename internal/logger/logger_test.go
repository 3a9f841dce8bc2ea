package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs_RedactsCredentialKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"username", "alice", "password", "hunter2", "JWT_Token", "abc"})
	assert.Equal(t, []interface{}{"username", "alice", "password", "[REDACTED]", "JWT_Token", "[REDACTED]"}, out)
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"application_id", "a-1", "dangling"})
	assert.Equal(t, []interface{}{"application_id", "a-1", "dangling"}, out)
}

func TestLogger_WithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("service", "Engine").Info("committed", "application_id", "a-1", "secret", "x")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "Engine", ctx["service"])
		assert.Equal(t, "a-1", ctx["application_id"])
		assert.Equal(t, "[REDACTED]", ctx["secret"])
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.Info("ignored", "k", "v")
	l.Sync()
}
