// Package influx writes per-poll statistics to InfluxDB, falling back to a
// gzip'd line protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/beacon-gps/trackview/internal/livesync"
	"github.com/beacon-gps/trackview/internal/logging"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Config locates the InfluxDB bucket.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	BatchSize   uint
	// BackupPath receives line protocol while the server is unreachable.
	BackupPath string
}

// Sink implements livesync.StatsSink.
type Sink struct {
	cfg    Config
	logger logging.Logger

	mu           sync.Mutex
	client       influxdb2.Client
	writer       influxdb2_api.WriteAPI
	backupFile   *os.File
	backupWriter *gzip.Writer
	valid        bool
}

var _ livesync.StatsSink = (*Sink)(nil)

// New creates a sink. Call Connect before use.
func New(cfg Config, logger logging.Logger) *Sink {
	if cfg.Measurement == "" {
		cfg.Measurement = "poll"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	return &Sink{cfg: cfg, logger: logger}
}

// Connect establishes a connection to InfluxDB or opens the backup file.
func (s *Sink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client = influxdb2.NewClientWithOptions(
		s.cfg.URL,
		s.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(s.cfg.BatchSize).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := s.client.Ping(ctx)
	if err != nil || !running {
		s.valid = false
		if s.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb at %s unreachable and no backup path configured: %v", s.cfg.URL, err)
		}
		s.logger.Warn("InfluxDB unreachable, writing to backup file", "url", s.cfg.URL, "backupPath", s.cfg.BackupPath, "error", err)

		file, err := os.OpenFile(s.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error creating backup file: %w", err)
		}
		s.backupFile = file
		s.backupWriter = gzip.NewWriter(file)
		return nil
	}

	s.valid = true
	s.writer = s.client.WriteAPI(s.cfg.Org, s.cfg.Bucket)
	errorsCh := s.writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			s.logger.Error("error sending data to InfluxDB", "bucket", s.cfg.Bucket, "error", writeErr)
		}
	}()
	s.logger.Info("InfluxDB client initialized", "url", s.cfg.URL, "bucket", s.cfg.Bucket)
	return nil
}

// Point converts stats into an InfluxDB point.
func (s *Sink) Point(ps livesync.PollStats) *influxdb2_write.Point {
	kind := "poll"
	if ps.Initial {
		kind = "load"
	}
	p := influxdb2_write.NewPointWithMeasurement(s.cfg.Measurement).
		AddTag("track", ps.TrackID).
		AddTag("kind", kind).
		AddTag("ok", fmt.Sprint(ps.Err == nil)).
		AddField("duration_ms", float64(ps.Duration)/float64(time.Millisecond)).
		AddField("fetched", ps.Fetched).
		AddField("merged", ps.Merged).
		AddField("failures", ps.Failures).
		SetTime(ps.At)
	if ps.Err != nil {
		p.AddField("error", ps.Err.Error())
	}
	return p
}

// RecordPoll writes one point. Errors are logged, never returned.
func (s *Sink) RecordPoll(ps livesync.PollStats) {
	if err := s.WritePoint(s.Point(ps)); err != nil {
		s.logger.Error("writing poll stats failed", "track", ps.TrackID, "error", err)
	}
}

// WritePoint writes a point to InfluxDB or the backup file.
func (s *Sink) WritePoint(point *influxdb2_write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid {
		s.writer.WritePoint(point)
		return nil
	}
	if s.backupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := s.backupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.backupWriter != nil {
		errs = append(errs, s.backupWriter.Close())
		errs = append(errs, s.backupFile.Close())
		s.backupWriter = nil
	}
	s.valid = false
	return errors.Join(errs...)
}
