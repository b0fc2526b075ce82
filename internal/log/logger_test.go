package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestBuildTextFormat(t *testing.T) {
	var buf bytes.Buffer
	build(&buf, "info", "TEXT").Info("hello", "k", "v")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestBuildFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, "warn", "json")
	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "kept", out["msg"])
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	Setup("info", "json")
	prev := logger
	logger = build(&buf, "info", "json")
	t.Cleanup(func() { logger = prev })

	WithComponent("bridge").Info("hello")
	WithTransport("telegram").Info("connected")

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "bridge", first["component"])
	assert.Equal(t, "hello", first["msg"])
	assert.Equal(t, "telegram", second["transport"])
}
