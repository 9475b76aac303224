// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeLine parses a single JSON log line.
func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry), "output is not valid JSON")
	return entry
}

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit_idempotent verifies Init only honours the first call.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = sync.Once{}

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	Init(&buf2, LevelDebug)
	assert.Same(t, first, Get(), "second Init() should be ignored")
	assert.Equal(t, LevelInfo, Get().MinLevel())

	Info("hello")
	assert.NotEmpty(t, buf1.String())
	assert.Empty(t, buf2.String())
}

// TestGet_default verifies a default logger is created lazily.
func TestGet_default(t *testing.T) {
	global = nil
	once = sync.Once{}

	logger := Get()
	require.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.MinLevel())
}

// TestSetDefault verifies the global logger can be replaced after Init.
func TestSetDefault(t *testing.T) {
	global = nil
	once = sync.Once{}

	var before, after bytes.Buffer
	Init(&before, LevelInfo)
	SetDefault(New(&after, LevelDebug))

	Debug("visible")
	assert.Empty(t, before.String())
	assert.Equal(t, "visible", decodeLine(t, &after)["message"])

	Init(&before, LevelInfo)
	assert.Equal(t, LevelDebug, Get().MinLevel())
}

// =====================================================
// Log Level Tests
// =====================================================

// TestParseLevel verifies level name parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

// TestLogger_levelFiltering verifies entries below the minimum level are dropped.
func TestLogger_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	assert.Empty(t, buf.String())

	logger.Warn("warn")
	assert.NotEmpty(t, buf.String())
}

// =====================================================
// Logging Tests
// =====================================================

// TestLogger_Debug verifies debug logging with context.
func TestLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("test message", map[string]interface{}{"key": "value"})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "test message", entry["message"])
	assert.Contains(t, entry, "time")

	ctx, ok := entry["context"].(map[string]interface{})
	require.True(t, ok, "context should be an object")
	assert.Equal(t, "value", ctx["key"])
}

// TestLogger_Info verifies info logging without context.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("info message")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, entry, "context")
}

// TestLogger_Error verifies the error is attached.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Error("error occurred", io.ErrUnexpectedEOF)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), entry["error"])
}

// TestLogger_ErrorWithCode verifies the code is merged into the context.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	callerCtx := map[string]interface{}{"action_id": "a1"}
	logger.ErrorWithCode("replay failed", "HANDLER_FAILED", io.EOF, callerCtx)

	entry := decodeLine(t, &buf)
	ctx := entry["context"].(map[string]interface{})
	assert.Equal(t, "HANDLER_FAILED", ctx["error_code"])
	assert.Equal(t, "a1", ctx["action_id"])
	assert.NotContains(t, callerCtx, "error_code", "caller map must not be mutated")
}

// TestMergeContext verifies later maps override earlier ones.
func TestMergeContext(t *testing.T) {
	merged := mergeContext(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"b": 3},
	)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3}, merged)
	assert.Nil(t, mergeContext())
	assert.Nil(t, mergeContext(nil))
}
