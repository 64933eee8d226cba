package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, line []byte) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(line, &rec))
	return rec
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_JSONWithCorrelationID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: "info", Output: &buf})

	ctx := WithCorrelationID(context.Background(), "corr-1")
	logger.InfoContext(ctx, "intent recognized", "subject", "hi")

	rec := decode(t, buf.Bytes())
	assert.Equal(t, "intent recognized", rec["msg"])
	assert.Equal(t, "corr-1", rec[CorrelationIDKey])
	assert.Equal(t, "hi", rec["subject"])
}

func TestNew_NoCorrelationIDWithoutContextValue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.Info("plain")

	rec := decode(t, buf.Bytes())
	_, ok := rec[CorrelationIDKey]
	assert.False(t, ok)
}

func TestNew_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})
	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Format: "text", Output: &buf})
	logger.InfoContext(WithCorrelationID(context.Background(), "abc"), "hello")

	out := buf.String()
	assert.True(t, strings.Contains(out, "msg=hello"), out)
	assert.True(t, strings.Contains(out, "correlation_id=abc"), out)
}

func TestContextHandler_KeepsExtractorsAcrossWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With("component", "dispatcher").WithGroup("job")

	logger.InfoContext(WithCorrelationID(context.Background(), "c-9"), "done", "tag", "t")

	rec := decode(t, buf.Bytes())
	assert.Equal(t, "dispatcher", rec["component"])
	job, ok := rec["job"].(map[string]any)
	require.True(t, ok, "record: %v", rec)
	assert.Equal(t, "t", job["tag"])
	assert.Equal(t, "c-9", job[CorrelationIDKey])
}

func TestNewContextHandler_DropsNilExtractors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewContextHandler(slog.NewJSONHandler(&buf, nil), nil, CorrelationIDExtractor, nil)
	assert.Len(t, h.(*ContextHandler).extractors, 1)

	assert.NotPanics(t, func() {
		slog.New(h).Info("x")
	})
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	_, ok := CorrelationID(context.Background())
	assert.False(t, ok)

	_, ok = CorrelationID(WithCorrelationID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := CorrelationID(WithCorrelationID(context.Background(), "x"))
	assert.True(t, ok)
	assert.Equal(t, "x", id)
}
