package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		logName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			logName: "trackview",
			want:    filepath.Join("logs", "trackview.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			logName: "trackview",
			want:    filepath.Join(".", "logs", "trackview.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "trackview"),
			logName: "trackview",
			want:    filepath.Join("/var", "log", "trackview", "trackview.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.logName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestSetup_ConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	out, err := Setup(Options{
		Level:   "debug",
		LogsDir: dir,
		Name:    "trackview",
		Start:   start,
		Console: &console,
	})
	require.NoError(t, err)

	out.Logger.Info().Str("track", "42").Msg("layer loaded")
	require.NoError(t, out.Close())

	assert.Equal(t, LogFilePath(dir, "trackview", start), out.File)
	assert.Contains(t, console.String(), "layer loaded")

	data, err := os.ReadFile(out.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "layer loaded")
	assert.Contains(t, string(data), "track=42")
}

func TestSetup_LevelFilter(t *testing.T) {
	var console bytes.Buffer
	out, err := Setup(Options{Level: "warn", Console: &console})
	require.NoError(t, err)
	defer out.Close()

	out.Logger.Info().Msg("quiet")
	out.Logger.Warn().Msg("loud")

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")
	assert.Empty(t, out.File)
}
