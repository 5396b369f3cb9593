package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"adsb_feeds/internal/models"
)

// EnvPrefix prefixes every environment override, e.g. ADSB_FEEDS_HTTP_ADDR
const EnvPrefix = "ADSB_FEEDS"

// Config holds all configuration for the daemon
type Config struct {
	Servers []models.ServerConfig
	Center  CenterConfig
	Tracker TrackerConfig
	Session SessionConfig
	Archive ArchiveConfig
	Status  StatusConfig
	HTTP    HTTPConfig
	Log     LogConfig
}

// CenterConfig is the receiver location the distance filter is measured from
type CenterConfig struct {
	Lat float64
	Lon float64
}

type TrackerConfig struct {
	MaxDistanceMiles float64
	AircraftTimeout  time.Duration
	TrailRetention   time.Duration
}

type SessionConfig struct {
	ReconnectDelay  time.Duration
	CleanupInterval time.Duration
	DialTimeout     time.Duration
}

// ArchiveConfig controls the SQLite position archive
type ArchiveConfig struct {
	Enabled       bool
	DBPath        string
	BatchSize     int
	FlushInterval time.Duration
	Retention     time.Duration
	PruneInterval time.Duration
}

type StatusConfig struct {
	ReportInterval time.Duration
}

// HTTPConfig controls the API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Loader reads configuration from a file, environment variables and flags,
// and can watch the file for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. configPath may be empty, in which case
// config.yaml is searched for in /etc/adsb_feeds and the working directory.
// flags, when non-nil, override file and environment values for the keys
// they are bound to.
func NewLoader(configPath string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/adsb_feeds")
	v.AddConfigPath(".")

	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG_PATH")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults + env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	return &Loader{v: v}, nil
}

// flagBindings maps config keys to the command line flags that override them
var flagBindings = map[string]string{
	"log.level": "log-level",
	"log.file":  "log-file",
	"http.addr": "http-addr",
}

// Load reads configuration once
func Load(configPath string) (*Config, error) {
	l, err := NewLoader(configPath, nil)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("center.lat", 0.0)
	v.SetDefault("center.lon", 0.0)
	v.SetDefault("tracker.max_distance_miles", 250.0)
	v.SetDefault("tracker.aircraft_timeout", 60*time.Second)
	v.SetDefault("tracker.trail_retention", time.Duration(0))
	v.SetDefault("session.reconnect_delay", 5*time.Second)
	v.SetDefault("session.cleanup_interval", 30*time.Second)
	v.SetDefault("session.dial_timeout", 5*time.Second)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.db_path", "adsb_positions.db")
	v.SetDefault("archive.batch_size", 100)
	v.SetDefault("archive.flush_interval", time.Second)
	v.SetDefault("archive.retention", 24*time.Hour)
	v.SetDefault("archive.prune_interval", 10*time.Minute)
	v.SetDefault("status.report_interval", time.Minute)
	v.SetDefault("http.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load builds and validates a Config from the loader's current values
func (l *Loader) Load() (*Config, error) {
	v := l.v

	var servers []models.ServerConfig
	if err := v.UnmarshalKey("servers", &servers); err != nil {
		return nil, fmt.Errorf("invalid servers section: %w", err)
	}
	for i := range servers {
		servers[i].ID = strings.TrimSpace(servers[i].ID)
		servers[i].Format = models.FeedFormat(strings.ToLower(string(servers[i].Format)))
		if servers[i].Format == "" {
			servers[i].Format = models.FormatBaseStation
		}
	}

	cfg := &Config{
		Servers: servers,
		Center: CenterConfig{
			Lat: v.GetFloat64("center.lat"),
			Lon: v.GetFloat64("center.lon"),
		},
		Tracker: TrackerConfig{
			MaxDistanceMiles: v.GetFloat64("tracker.max_distance_miles"),
			AircraftTimeout:  v.GetDuration("tracker.aircraft_timeout"),
			TrailRetention:   v.GetDuration("tracker.trail_retention"),
		},
		Session: SessionConfig{
			ReconnectDelay:  v.GetDuration("session.reconnect_delay"),
			CleanupInterval: v.GetDuration("session.cleanup_interval"),
			DialTimeout:     v.GetDuration("session.dial_timeout"),
		},
		Archive: ArchiveConfig{
			Enabled:       v.GetBool("archive.enabled"),
			DBPath:        v.GetString("archive.db_path"),
			BatchSize:     v.GetInt("archive.batch_size"),
			FlushInterval: v.GetDuration("archive.flush_interval"),
			Retention:     v.GetDuration("archive.retention"),
			PruneInterval: v.GetDuration("archive.prune_interval"),
		},
		Status: StatusConfig{
			ReportInterval: v.GetDuration("status.report_interval"),
		},
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
		Log: LogConfig{
			Level:      strings.ToLower(v.GetString("log.level")),
			Format:     strings.ToLower(v.GetString("log.format")),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes. Invalid edits are logged and ignored.
func (l *Loader) Watch(logger *slog.Logger, onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		logger.Info("No config file in use, hot reload disabled")
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			logger.Error("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("Config file changed", "file", e.Name, "servers", len(cfg.Servers))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// validate validates the configuration values
func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true

		if s.Enabled && strings.TrimSpace(s.Address) == "" {
			return fmt.Errorf("server %s: address is required when enabled", s.ID)
		}
		if !s.Format.Valid() {
			return fmt.Errorf("server %s: invalid format %q (must be basestation or beast)", s.ID, s.Format)
		}
	}

	if !models.ValidLatitude(cfg.Center.Lat) {
		return fmt.Errorf("center.lat must be between -90 and 90, got %v", cfg.Center.Lat)
	}
	if !models.ValidLongitude(cfg.Center.Lon) {
		return fmt.Errorf("center.lon must be between -180 and 180, got %v", cfg.Center.Lon)
	}

	positive := []struct {
		key   string
		value time.Duration
	}{
		{"tracker.aircraft_timeout", cfg.Tracker.AircraftTimeout},
		{"session.reconnect_delay", cfg.Session.ReconnectDelay},
		{"session.cleanup_interval", cfg.Session.CleanupInterval},
		{"session.dial_timeout", cfg.Session.DialTimeout},
		{"status.report_interval", cfg.Status.ReportInterval},
	}
	if cfg.Archive.Enabled {
		positive = append(positive, []struct {
			key   string
			value time.Duration
		}{
			{"archive.flush_interval", cfg.Archive.FlushInterval},
			{"archive.retention", cfg.Archive.Retention},
			{"archive.prune_interval", cfg.Archive.PruneInterval},
		}...)
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", p.key)
		}
	}

	if cfg.Tracker.TrailRetention < 0 {
		return fmt.Errorf("tracker.trail_retention must not be negative")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.DBPath == "" {
			return fmt.Errorf("archive.db_path is required when the archive is enabled")
		}
		if cfg.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be greater than 0")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[cfg.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", cfg.Log.Format)
	}

	return nil
}
