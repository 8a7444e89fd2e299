package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := log.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetJobID(ctx, "job-1")
	ctx = SetUsername(ctx, "alice")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))
	assert.Equal(t, "alice", GetUsername(ctx))
	assert.Empty(t, GetComponent(ctx))

	Since(time.Now()).WithStatus("completed").WithCount(2).Info(ctx, "item %s annotated", "img-1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "item img-1 annotated", line["message"])
	assert.Equal(t, "alice", line[FieldUsername])
	assert.Equal(t, "job-1", line[FieldJobID])
	assert.Equal(t, "completed", line[FieldStatus])
	assert.Equal(t, float64(2), line[FieldCount])
	assert.Equal(t, "test", line["service"])
	assert.Contains(t, line, FieldDurationMs)
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Format: "text", Output: &buf, ServiceName: "test"})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestEnvConfigOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")

	cfg := LoadFromEnv()
	assert.Equal(t, "debug", cfg.Level)

	cfg.Override("", "json")
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	cfg.Override("error", "")
	assert.Equal(t, "error", cfg.Level)
}
