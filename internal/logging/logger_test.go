package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output: %s", buf.String())
	return entry
}

func TestNewZerologLogger(t *testing.T) {
	l := NewZerologLogger(zerolog.New(&bytes.Buffer{}))
	assert.NotNil(t, l)
}

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(l *ZerologLogger)
	}{
		{"debug", func(l *ZerologLogger) { l.Debug("test message", "key1", "value1", "key2", 42) }},
		{"info", func(l *ZerologLogger) { l.Info("test message", "key1", "value1", "key2", 42) }},
		{"warn", func(l *ZerologLogger) { l.Warn("test message", "key1", "value1", "key2", 42) }},
		{"error", func(l *ZerologLogger) { l.Error("test message", "key1", "value1", "key2", 42) }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewZerologLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "test message", entry["message"])
			assert.Equal(t, "value1", entry["key1"])
			assert.Equal(t, float64(42), entry["key2"]) // JSON numbers are float64
		})
	}
}

func TestZerologLogger_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	l.Debug("hidden")

	assert.Empty(t, buf.String())
}

func TestZerologLogger_ErrorValue(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf))

	l.Error("poll failed", "error", errors.New("connection refused"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "connection refused", entry["error"])
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf)).With("track", "42")

	l.Info("loaded", "points", 2)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "42", entry["track"])
	assert.Equal(t, float64(2), entry["points"])
}

func TestToFields(t *testing.T) {
	tests := []struct {
		name string
		in   []any
		want map[string]any
	}{
		{"empty", nil, map[string]any{}},
		{"pairs", []any{"a", 1, "b", "x"}, map[string]any{"a": 1, "b": "x"}},
		{"odd trailing key dropped", []any{"a", 1, "b"}, map[string]any{"a": 1}},
		{"non string key skipped", []any{1, "x", "b", 2}, map[string]any{"b": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toFields(tt.in))
		})
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x", "error", errors.New("boom"))
	})
}
