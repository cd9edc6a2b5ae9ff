// Command trackview follows a live GPS track from a beacon backend and serves
// the resulting map state over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beacon-gps/trackview/internal/config"
	"github.com/beacon-gps/trackview/internal/eventloop"
	"github.com/beacon-gps/trackview/internal/geo"
	"github.com/beacon-gps/trackview/internal/influx"
	"github.com/beacon-gps/trackview/internal/layer"
	"github.com/beacon-gps/trackview/internal/livesync"
	"github.com/beacon-gps/trackview/internal/logging"
	intOtel "github.com/beacon-gps/trackview/internal/otel"
	"github.com/beacon-gps/trackview/internal/session"
	"github.com/beacon-gps/trackview/internal/source"
	"github.com/beacon-gps/trackview/internal/transport"
	"github.com/beacon-gps/trackview/internal/view"
	"github.com/beacon-gps/trackview/internal/web"
)

const appName = "trackview"

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	trackID := flag.String("id", "", "track to follow on startup (overrides sync.defaultId)")
	center := flag.String("center", "", "initial map center as lon,lat (overrides view.lon/view.lat)")
	backend := flag.String("backend", "", "backend base URL (overrides backend.url)")
	flag.Parse()

	if err := run(*configDir, *trackID, *center, *backend); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run(configDir, trackID, center, backend string) error {
	sessionStart := time.Now()

	configErr := config.Load(configDir)

	logCfg, err := config.GetLogConfig()
	if err != nil {
		return err
	}
	graylog := ""
	if logCfg.GraylogEnabled {
		graylog = logCfg.GraylogAddress
	}
	out, err := logging.Setup(logging.Options{
		Level:   logCfg.Level,
		LogsDir: logCfg.Dir,
		Name:    appName,
		Start:   sessionStart,
		Graylog: graylog,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer func() { _ = out.Close() }()
	logger := logging.NewZerologLogger(out.Logger)

	if configErr != nil {
		logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		logger.Info("Loaded config", "dir", configDir)
	}
	logger.Info("Begin logging in logs directory", "path", out.File)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := setupOTel(logCfg.Dir, sessionStart, logger)
	if err != nil {
		logger.Error("Failed to initialize OTel provider", "error", err)
	}
	if provider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("OTel shutdown failed", "error", err)
			}
		}()
	}

	backendCfg, err := config.GetBackendConfig()
	if err != nil {
		return err
	}
	if backend != "" {
		backendCfg.URL = backend
	}
	syncCfg, err := config.GetSyncConfig()
	if err != nil {
		return err
	}
	if trackID == "" {
		trackID = syncCfg.DefaultID
	}
	viewCfg, err := config.GetViewConfig()
	if err != nil {
		return err
	}
	if center != "" {
		viewCfg.Lon, viewCfg.Lat, err = geo.ParseLonLat(center)
		if err != nil {
			return fmt.Errorf("parsing -center: %w", err)
		}
	}
	styleCfg, err := config.GetStyleConfig()
	if err != nil {
		return err
	}

	syncOpts := []livesync.Option{
		livesync.WithInterval(syncCfg.Interval),
		livesync.WithStaleAfter(syncCfg.StaleAfter),
		livesync.WithContext(ctx),
	}
	if sink := setupInflux(ctx, logger); sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing InfluxDB sink failed", "error", err)
			}
		}()
		syncOpts = append(syncOpts, livesync.WithStatsSink(sink))
	}

	loop, err := eventloop.New(eventloop.DefaultQueueSize, logger.With("component", "eventloop"))
	if err != nil {
		return fmt.Errorf("creating event loop: %w", err)
	}
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	defer func() {
		stopLoop()
		loop.Wait()
	}()

	src := source.New(transport.New(backendCfg.URL, transport.WithTimeout(backendCfg.Timeout)))
	controller := view.New(viewCfg.Lon, viewCfg.Lat, viewCfg.Zoom)
	sess := session.New(src, loop, controller, logger.With("component", "session"), styleFromConfig(styleCfg), syncOpts...)
	logger.Info("Starting up...", "backend", backendCfg.URL, "track", trackID, "interval", syncCfg.Interval)

	if err := sess.Init(ctx); err != nil {
		// The list only feeds the selection menu; following a track works without it.
		logger.Warn("Failed to load track list", "error", err)
	}
	if trackID != "" {
		if err := loop.Call(ctx, func() {
			if err := sess.SwitchTo(trackID); err != nil {
				logger.Error("Failed to select track", "track", trackID, "error", err)
			}
		}); err != nil {
			return err
		}
	}

	httpCfg, err := config.GetHTTPConfig()
	if err != nil {
		return err
	}
	if httpCfg.Enabled {
		srv := web.NewServer(web.ServerConfig{Addr: httpCfg.Addr}, sess, controller, loop, logger.With("component", "web"))
		if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("HTTP server stopped", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("Shutting down...")
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Call(closeCtx, sess.Close); err != nil {
		logger.Warn("Failed to stop session", "error", err)
	}
	return nil
}

func setupOTel(logsDir string, sessionStart time.Time, logger logging.Logger) (*intOtel.Provider, error) {
	otelCfg, err := config.GetOTelConfig()
	if err != nil {
		return nil, err
	}
	if !otelCfg.Enabled {
		return nil, nil
	}

	path := logging.LogFilePath(logsDir, appName+".metrics", sessionStart)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file: %w", err)
	}
	provider, err := intOtel.New(intOtel.Config{
		Enabled:     true,
		ServiceName: otelCfg.ServiceName,
		Interval:    otelCfg.Interval,
		Writer:      f,
	})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	logger.Info("OTel provider initialized", "file", path)
	return provider, nil
}

func setupInflux(ctx context.Context, logger *logging.ZerologLogger) *influx.Sink {
	cfg, err := config.GetInfluxConfig()
	if err != nil {
		logger.Error("Invalid InfluxDB config, poll statistics disabled", "error", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}

	sink := influx.New(influx.Config{
		URL:         cfg.URL,
		Token:       cfg.Token,
		Org:         cfg.Org,
		Bucket:      cfg.Bucket,
		Measurement: cfg.Measurement,
		BatchSize:   cfg.BatchSize,
		BackupPath:  cfg.BackupPath,
	}, logger.With("component", "influx"))
	if err := sink.Connect(ctx); err != nil {
		logger.Error("Failed to connect to InfluxDB, poll statistics disabled", "error", err)
		_ = sink.Close()
		return nil
	}
	return sink
}

func styleFromConfig(cfg config.StyleConfig) layer.Style {
	return layer.Style{
		Stroke: layer.Stroke{Color: cfg.Track.Color, Width: cfg.Track.Width},
		Marker: layer.MarkerStyle{
			Radius: cfg.MarkerRadius,
			Fill:   cfg.MarkerFill,
			Stroke: layer.Stroke{Color: cfg.MarkerStroke.Color, Width: cfg.MarkerStroke.Width},
		},
	}
}
