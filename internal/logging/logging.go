// Package logging sets up the process logger: a colored console writer, a
// plain session log file and an optional Graylog sink.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// Options configures Setup.
type Options struct {
	Level   string
	LogsDir string
	// Name prefixes the session log file.
	Name    string
	Start   time.Time
	Graylog string // host:port, empty disables
	Console io.Writer
}

// Output is the result of Setup. Close flushes and releases the sinks.
type Output struct {
	Logger zerolog.Logger
	File   string

	closers []io.Closer
}

// Close closes the log file and the Graylog connection.
func (o *Output) Close() error {
	var errs []error
	for _, c := range o.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", name, sessionStart.Format("20060102_150405")),
	)
}

// ParseLevel maps a configured level name to a zerolog level, defaulting to
// info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup builds the process logger.
func Setup(opts Options) (*Output, error) {
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	out := &Output{}
	writers := []io.Writer{
		// console format with colors
		zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: time.RFC3339,
		},
	}

	if opts.LogsDir != "" {
		if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		out.File = LogFilePath(opts.LogsDir, opts.Name, opts.Start)
		f, err := os.OpenFile(out.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out.closers = append(out.closers, f)
		// console format without colors to file
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        f,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	if opts.Graylog != "" {
		gw, err := gelf.NewWriter(opts.Graylog)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("connecting to graylog %s: %w", opts.Graylog, err)
		}
		gw.Facility = opts.Name
		out.closers = append(out.closers, gw)
		writers = append(writers, gw)
	}

	out.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()

	return out, nil
}
