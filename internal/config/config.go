// Package config reads trackview.cfg.json with viper and exposes typed,
// validated views of it.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "trackview.cfg.json"

var validate = validator.New()

// BackendConfig locates the beacon backend.
type BackendConfig struct {
	URL     string        `json:"url" mapstructure:"url" validate:"required,url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" validate:"gt=0"`
}

// SyncConfig tunes the live sync engine.
type SyncConfig struct {
	Interval   time.Duration `json:"interval" mapstructure:"interval" validate:"gt=0"`
	StaleAfter int           `json:"staleAfter" mapstructure:"staleAfter" validate:"gt=0"`
	DefaultID  string        `json:"defaultId" mapstructure:"defaultId"`
}

// ViewConfig is the initial map view.
type ViewConfig struct {
	Lon  float64 `json:"lon" mapstructure:"lon" validate:"gte=-180,lte=180"`
	Lat  float64 `json:"lat" mapstructure:"lat" validate:"gte=-90,lte=90"`
	Zoom float64 `json:"zoom" mapstructure:"zoom" validate:"gte=0,lte=24"`
}

// StrokeConfig is a line style.
type StrokeConfig struct {
	Color string  `json:"color" mapstructure:"color" validate:"required"`
	Width float64 `json:"width" mapstructure:"width" validate:"gt=0"`
}

// StyleConfig is how tracks and the position marker are drawn.
type StyleConfig struct {
	Track        StrokeConfig `json:"track" mapstructure:"track"`
	MarkerRadius float64      `json:"markerRadius" mapstructure:"markerRadius" validate:"gt=0"`
	MarkerFill   string       `json:"markerFill" mapstructure:"markerFill"`
	MarkerStroke StrokeConfig `json:"markerStroke" mapstructure:"markerStroke"`
}

// HTTPConfig holds the local HTTP surface settings.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr" validate:"required,hostname_port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level          string `json:"level" mapstructure:"level" validate:"oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	Dir            string `json:"dir" mapstructure:"dir"`
	GraylogEnabled bool   `json:"graylogEnabled" mapstructure:"graylogEnabled"`
	GraylogAddress string `json:"graylogAddress" mapstructure:"graylogAddress" validate:"required_if=GraylogEnabled true"`
}

// InfluxConfig holds the optional poll statistics sink settings.
type InfluxConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	URL         string `json:"url" mapstructure:"url" validate:"required_if=Enabled true"`
	Token       string `json:"token" mapstructure:"token"`
	Org         string `json:"org" mapstructure:"org" validate:"required_if=Enabled true"`
	Bucket      string `json:"bucket" mapstructure:"bucket" validate:"required_if=Enabled true"`
	Measurement string `json:"measurement" mapstructure:"measurement" validate:"required"`
	BatchSize   uint   `json:"batchSize" mapstructure:"batchSize" validate:"gt=0"`
	BackupPath  string `json:"backupPath" mapstructure:"backupPath"`
}

// OTelConfig holds OpenTelemetry metrics settings.
type OTelConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName string        `json:"serviceName" mapstructure:"serviceName" validate:"required"`
	Interval    time.Duration `json:"interval" mapstructure:"interval" validate:"gt=0"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("backend.url", "http://localhost:8000")
	viper.SetDefault("backend.timeout", "30s")

	viper.SetDefault("sync.interval", "5s")
	viper.SetDefault("sync.staleAfter", 3)
	viper.SetDefault("sync.defaultId", "42")

	viper.SetDefault("view.lon", 7.13)
	viper.SetDefault("view.lat", 50.95)
	viper.SetDefault("view.zoom", 14)

	viper.SetDefault("style.track.color", "rgba(20,50,255,0.5)")
	viper.SetDefault("style.track.width", 3)
	viper.SetDefault("style.markerRadius", 5)
	viper.SetDefault("style.markerFill", "")
	viper.SetDefault("style.markerStroke.color", "rgba(255,50,50,0.8)")
	viper.SetDefault("style.markerStroke.width", 2)

	viper.SetDefault("http.enabled", true)
	viper.SetDefault("http.addr", "127.0.0.1:8080")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.dir", "./logs")
	viper.SetDefault("log.graylogEnabled", false)
	viper.SetDefault("log.graylogAddress", "localhost:12201")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "beacon")
	viper.SetDefault("influx.bucket", "trackview")
	viper.SetDefault("influx.measurement", "poll")
	viper.SetDefault("influx.batchSize", 50)
	viper.SetDefault("influx.backupPath", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "trackview")
	viper.SetDefault("otel.interval", "60s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults stay in
// effect when the file cannot be read.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

func validated[T any](key string, cfg T) (T, error) {
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid %s config: %w", key, err)
	}
	return cfg, nil
}

// GetBackendConfig returns the backend settings.
func GetBackendConfig() (BackendConfig, error) {
	return validated("backend", BackendConfig{
		URL:     viper.GetString("backend.url"),
		Timeout: viper.GetDuration("backend.timeout"),
	})
}

// GetSyncConfig returns the sync engine settings.
func GetSyncConfig() (SyncConfig, error) {
	return validated("sync", SyncConfig{
		Interval:   viper.GetDuration("sync.interval"),
		StaleAfter: viper.GetInt("sync.staleAfter"),
		DefaultID:  viper.GetString("sync.defaultId"),
	})
}

// GetViewConfig returns the initial view.
func GetViewConfig() (ViewConfig, error) {
	return validated("view", ViewConfig{
		Lon:  viper.GetFloat64("view.lon"),
		Lat:  viper.GetFloat64("view.lat"),
		Zoom: viper.GetFloat64("view.zoom"),
	})
}

// GetStyleConfig returns the drawing style.
func GetStyleConfig() (StyleConfig, error) {
	return validated("style", StyleConfig{
		Track: StrokeConfig{
			Color: viper.GetString("style.track.color"),
			Width: viper.GetFloat64("style.track.width"),
		},
		MarkerRadius: viper.GetFloat64("style.markerRadius"),
		MarkerFill:   viper.GetString("style.markerFill"),
		MarkerStroke: StrokeConfig{
			Color: viper.GetString("style.markerStroke.color"),
			Width: viper.GetFloat64("style.markerStroke.width"),
		},
	})
}

// GetHTTPConfig returns the HTTP surface settings.
func GetHTTPConfig() (HTTPConfig, error) {
	return validated("http", HTTPConfig{
		Enabled: viper.GetBool("http.enabled"),
		Addr:    viper.GetString("http.addr"),
	})
}

// GetLogConfig returns the logging settings.
func GetLogConfig() (LogConfig, error) {
	return validated("log", LogConfig{
		Level:          viper.GetString("log.level"),
		Dir:            viper.GetString("log.dir"),
		GraylogEnabled: viper.GetBool("log.graylogEnabled"),
		GraylogAddress: viper.GetString("log.graylogAddress"),
	})
}

// GetInfluxConfig returns the poll statistics sink settings.
func GetInfluxConfig() (InfluxConfig, error) {
	return validated("influx", InfluxConfig{
		Enabled:     viper.GetBool("influx.enabled"),
		URL:         viper.GetString("influx.url"),
		Token:       viper.GetString("influx.token"),
		Org:         viper.GetString("influx.org"),
		Bucket:      viper.GetString("influx.bucket"),
		Measurement: viper.GetString("influx.measurement"),
		BatchSize:   viper.GetUint("influx.batchSize"),
		BackupPath:  viper.GetString("influx.backupPath"),
	})
}

// GetOTelConfig returns the metrics settings.
func GetOTelConfig() (OTelConfig, error) {
	return validated("otel", OTelConfig{
		Enabled:     viper.GetBool("otel.enabled"),
		ServiceName: viper.GetString("otel.serviceName"),
		Interval:    viper.GetDuration("otel.interval"),
	})
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
