package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"skyburst/internal/logging"
	"skyburst/internal/opensky"
	"skyburst/internal/serial"
	"skyburst/internal/telemetry"
)

// Default configuration constants
const (
	DefaultCenterLat     = 29.6465  // University of Florida
	DefaultCenterLon     = -82.3533 // University of Florida
	DefaultRadiusKm      = 200.0
	DefaultPollInterval  = 10 * time.Second
	DefaultRecordGap     = 10 * time.Millisecond
	DefaultStatsInterval = 5 * time.Minute
	DefaultHTTPTimeout   = 15 * time.Second
)

// Config holds application configuration
type Config struct {
	OpenSky        OpenSkyConfig `yaml:"opensky"`
	Region         RegionConfig  `yaml:"region"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Serial         SerialConfig  `yaml:"serial"`
	DryRun         bool          `yaml:"dry_run"`
	OverflowPolicy string        `yaml:"overflow_policy"`
	Capture        CaptureConfig `yaml:"capture"`
	Log            LogConfig     `yaml:"log"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	Verbose        bool          `yaml:"verbose"`
	ShowVersion    bool          `yaml:"-"`
}

type OpenSkyConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RegionConfig struct {
	CenterLat float64 `yaml:"center_lat"`
	CenterLon float64 `yaml:"center_lon"`
	RadiusKm  float64 `yaml:"radius_km"`
}

type SerialConfig struct {
	Device        string        `yaml:"device"`
	Baud          int           `yaml:"baud"`
	RecordGap     time.Duration `yaml:"record_gap"`
	ReopenOnError bool          `yaml:"reopen_on_error"`
}

type CaptureConfig struct {
	Enable  bool   `yaml:"enable"`
	Dir     string `yaml:"dir"`
	UTC     bool   `yaml:"utc"`
	MaxDays int    `yaml:"max_days"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Format     string `yaml:"format"`
}

// DefaultConfig returns the Gainesville deployment settings.
func DefaultConfig() Config {
	return Config{
		OpenSky: OpenSkyConfig{
			BaseURL: opensky.DefaultBaseURL,
			Timeout: DefaultHTTPTimeout,
		},
		Region: RegionConfig{
			CenterLat: DefaultCenterLat,
			CenterLon: DefaultCenterLon,
			RadiusKm:  DefaultRadiusKm,
		},
		PollInterval: DefaultPollInterval,
		Serial: SerialConfig{
			Device:        serial.DefaultDevice,
			Baud:          serial.DefaultBaud,
			RecordGap:     DefaultRecordGap,
			ReopenOnError: true,
		},
		OverflowPolicy: telemetry.OverflowReject.String(),
		Capture: CaptureConfig{
			Dir:     "./captures",
			UTC:     true,
			MaxDays: 30,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
			Format:     "text",
		},
		StatsInterval: DefaultStatsInterval,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the bridge cannot run with.
func (c Config) Validate() error {
	if c.Region.CenterLat < -90 || c.Region.CenterLat > 90 {
		return fmt.Errorf("region.center_lat must be within [-90, 90]")
	}
	if c.Region.CenterLon < -180 || c.Region.CenterLon > 180 {
		return fmt.Errorf("region.center_lon must be within [-180, 180]")
	}
	if c.Region.RadiusKm <= 0 {
		return fmt.Errorf("region.radius_km must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.Serial.RecordGap < 0 {
		return fmt.Errorf("serial.record_gap must be >= 0")
	}
	if !c.DryRun {
		if c.Serial.Device == "" {
			return fmt.Errorf("serial.device is required unless dry_run is set")
		}
		if c.Serial.Baud <= 0 {
			return fmt.Errorf("serial.baud must be > 0")
		}
	}
	if _, err := telemetry.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		return err
	}
	if c.Capture.Enable && c.Capture.Dir == "" {
		return fmt.Errorf("capture.dir is required when capture.enable is true")
	}
	if c.StatsInterval < 0 {
		return fmt.Errorf("stats_interval must be >= 0")
	}
	return nil
}

// BoundingBox returns the query window for the configured region.
func (c Config) BoundingBox() opensky.BoundingBox {
	return opensky.BoundingBoxAround(c.Region.CenterLat, c.Region.CenterLon, c.Region.RadiusKm)
}

func (c Config) loggingConfig() logging.Config {
	return logging.Config{
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		Format:     c.Log.Format,
		Verbose:    c.Verbose,
	}
}
