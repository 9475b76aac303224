// Package config provides configuration loading for the offline sync engine.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/offlinesync/internal/cache"
	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/storage"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
)

// Defaults applied to fields left empty.
const (
	DefaultDataDir       = ".offlinesync"
	DefaultProbeInterval = "15s"
	DefaultProbeTimeout  = "3s"
	DefaultReplayTimeout = "30s"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path      string
	overrides []func(*Config)
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		cfg.path = realPath
		return nil
	}
}

// WithOverride applies fn after the file is parsed and before defaults
// and validation. The CLI uses it for flags and environment variables.
func WithOverride(fn func(*Config)) Option {
	return func(cfg *loaderConfig) error {
		cfg.overrides = append(cfg.overrides, fn)
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Namespace prefixes every storage key
	Namespace string        `yaml:"namespace,omitempty"`
	Storage   StorageConfig `yaml:"storage"`
	Retry     RetryConfig   `yaml:"retry"`
	Network   NetworkConfig `yaml:"network"`
	Replay    ReplayConfig  `yaml:"replay"`
	Sync      SyncConfig    `yaml:"sync"`
	Logging   LoggingConfig `yaml:"logging"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects the storage driver
type StorageConfig struct {
	// Driver is memory, sqlite or file
	Driver string `yaml:"driver,omitempty"`

	// Path is the data directory for the sqlite and file drivers
	Path string `yaml:"path,omitempty"`
}

// RetryConfig defines the retry policy for failed replays
type RetryConfig struct {
	// MaxAttempts dead-letters an action after this many failures.
	// Zero retries forever.
	MaxAttempts *int `yaml:"maxAttempts,omitempty"`

	InitialInterval string  `yaml:"initialInterval,omitempty"`
	MaxInterval     string  `yaml:"maxInterval,omitempty"`
	Multiplier      float64 `yaml:"multiplier,omitempty"`
}

// NetworkConfig defines connectivity probing
type NetworkConfig struct {
	// ProbeAddress is a host:port dialed to decide connectivity
	ProbeAddress  string `yaml:"probeAddress,omitempty"`
	ProbeInterval string `yaml:"probeInterval,omitempty"`
	ProbeTimeout  string `yaml:"probeTimeout,omitempty"`
}

// ReplayConfig defines the HTTP API actions are replayed against
type ReplayConfig struct {
	BaseURL string            `yaml:"baseURL,omitempty"`
	Timeout string            `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Routes sends the listed action kinds to their own base URL;
	// other kinds go to BaseURL
	Routes map[string]string `yaml:"routes,omitempty"`
}

// SyncConfig defines coordinator behaviour
type SyncConfig struct {
	// HandlerTimeout bounds each replay; empty means no bound
	HandlerTimeout string `yaml:"handlerTimeout,omitempty"`

	// PeriodicInterval flushes on a timer while online; empty disables it
	PeriodicInterval string `yaml:"periodicInterval,omitempty"`
}

// LoggingConfig defines log output
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	// Address is the listen address for /metrics; empty disables it
	Address string `yaml:"address,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig loads configuration from the options. Without a path the
// defaults are used.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "invalid config option", err)
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to parse YAML config", err)
		}
	}

	for _, fn := range loaderCfg.overrides {
		fn(&config)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = cache.DefaultNamespace
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverSQLite
	}
	if c.Storage.Path == "" && c.Storage.Driver != storage.DriverMemory {
		c.Storage.Path = DefaultDataDir
	}

	def := queue.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == nil {
		n := def.MaxAttempts
		c.Retry.MaxAttempts = &n
	}
	if c.Retry.InitialInterval == "" {
		c.Retry.InitialInterval = def.InitialInterval.String()
	}
	if c.Retry.MaxInterval == "" {
		c.Retry.MaxInterval = def.MaxInterval.String()
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = def.Multiplier
	}

	if c.Network.ProbeInterval == "" {
		c.Network.ProbeInterval = DefaultProbeInterval
	}
	if c.Network.ProbeTimeout == "" {
		c.Network.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Replay.Timeout == "" {
		c.Replay.Timeout = DefaultReplayTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return apperrors.New(apperrors.ErrConfig, "config cannot be nil")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case storage.DriverMemory, storage.DriverSQLite, storage.DriverFile:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != storage.DriverMemory && c.Storage.Path == "" {
		return apperrors.New(apperrors.ErrConfig, "storage.path is required")
	}

	if c.Retry.MaxAttempts != nil && *c.Retry.MaxAttempts < 0 {
		return apperrors.New(apperrors.ErrConfig, "retry.maxAttempts cannot be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return apperrors.New(apperrors.ErrConfig, "retry.multiplier must be at least 1")
	}

	durations := []struct {
		field string
		value string
	}{
		{"retry.initialInterval", c.Retry.InitialInterval},
		{"retry.maxInterval", c.Retry.MaxInterval},
		{"network.probeInterval", c.Network.ProbeInterval},
		{"network.probeTimeout", c.Network.ProbeTimeout},
		{"replay.timeout", c.Replay.Timeout},
		{"sync.handlerTimeout", c.Sync.HandlerTimeout},
		{"sync.periodicInterval", c.Sync.PeriodicInterval},
	}
	for _, d := range durations {
		if _, err := parseDuration(d.value); err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, d.field, err)
		}
	}

	if c.Network.ProbeAddress != "" {
		if _, _, err := net.SplitHostPort(c.Network.ProbeAddress); err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, "network.probeAddress", err)
		}
	}
	if c.Replay.BaseURL != "" && !validHTTPURL(c.Replay.BaseURL) {
		return apperrors.Newf(apperrors.ErrConfig, "replay.baseURL: invalid URL %q", c.Replay.BaseURL)
	}
	for kind, target := range c.Replay.Routes {
		if kind == "" {
			return apperrors.New(apperrors.ErrConfig, "replay.routes: empty action kind")
		}
		if !validHTTPURL(target) {
			return apperrors.Newf(apperrors.ErrConfig, "replay.routes.%s: invalid URL %q", kind, target)
		}
	}

	switch c.Logging.Format {
	case "", LogFormatJSON, LogFormatText:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "logging.format: unsupported format %q", c.Logging.Format)
	}
	return nil
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// parseDuration parses a Go duration string. Empty is zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q cannot be negative", s)
	}
	return d, nil
}

func mustDuration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

// RetryPolicy returns the queue retry policy.
func (c *Config) RetryPolicy() queue.RetryPolicy {
	p := queue.RetryPolicy{
		InitialInterval: mustDuration(c.Retry.InitialInterval),
		MaxInterval:     mustDuration(c.Retry.MaxInterval),
		Multiplier:      c.Retry.Multiplier,
	}
	if c.Retry.MaxAttempts != nil {
		p.MaxAttempts = *c.Retry.MaxAttempts
	}
	return p
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration { return mustDuration(c.Network.ProbeInterval) }

// ProbeTimeout returns the connectivity probe timeout.
func (c *Config) ProbeTimeout() time.Duration { return mustDuration(c.Network.ProbeTimeout) }

// ReplayTimeout returns the HTTP replay timeout.
func (c *Config) ReplayTimeout() time.Duration { return mustDuration(c.Replay.Timeout) }

// HandlerTimeout returns the per-action handler bound.
func (c *Config) HandlerTimeout() time.Duration { return mustDuration(c.Sync.HandlerTimeout) }

// PeriodicInterval returns the periodic flush interval.
func (c *Config) PeriodicInterval() time.Duration { return mustDuration(c.Sync.PeriodicInterval) }

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logging.LogLevel { return logging.ParseLevel(c.Logging.Level) }
