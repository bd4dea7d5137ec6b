// Package config loads and validates the autobuild daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
)

// Config represents the daemon configuration document.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	LogDir  string        `yaml:"log_dir,omitempty"`
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Notify  NotifyConfig  `yaml:"notify"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig holds the orchestration knobs. Durations are strings in
// time.ParseDuration syntax so operators can write "5s" or "1m30s".
type EngineConfig struct {
	MaxConcurrentBuilds   int    `yaml:"max_concurrent_builds"`
	WorkerInterval        string `yaml:"worker_interval"`
	MonitorInterval       string `yaml:"monitor_interval"`
	ReconcileInterval     string `yaml:"reconcile_interval"`
	DebounceWindow        string `yaml:"debounce_window"`
	StopGracePeriod       string `yaml:"stop_grace_period"`
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
}

// ServerConfig holds the RPC/admin HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// HistoryConfig controls the durable run-history store.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// NotifyConfig controls NATS build-event publishing.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Duration accessors. Values are validated at load time, so parse errors here
// fall back to the defaults rather than propagating.

func (e *EngineConfig) WorkerEvery() time.Duration {
	return parseDurationOr(e.WorkerInterval, defaultWorkerInterval)
}

func (e *EngineConfig) MonitorEvery() time.Duration {
	return parseDurationOr(e.MonitorInterval, defaultMonitorInterval)
}

func (e *EngineConfig) ReconcileEvery() time.Duration {
	return parseDurationOr(e.ReconcileInterval, defaultReconcileInterval)
}

func (e *EngineConfig) Debounce() time.Duration {
	return parseDurationOr(e.DebounceWindow, defaultDebounceWindow)
}

func (e *EngineConfig) StopGrace() time.Duration {
	return parseDurationOr(e.StopGracePeriod, defaultStopGracePeriod)
}

func (h *HistoryConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

func (m *MetricsConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

func parseDurationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}

// Default returns a configuration with all defaults applied, suitable for
// running without a configuration file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load loads configuration from the specified file, applies defaults and
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, aerrors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, aerrors.Wrap(err, aerrors.CategoryConfig, aerrors.SeverityFatal, "failed to read config file").
			WithContext("path", configPath)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, aerrors.Wrap(err, aerrors.CategoryConfig, aerrors.SeverityFatal, "failed to unmarshal config").
			WithContext("path", configPath)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from configPath when the file exists and
// otherwise falls back to defaults with environment overrides applied, so the
// daemon can run before `autobuild init` has written a file.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := &Config{}
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(configPath)
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

const exampleConfig = `# autobuild daemon configuration
data_dir: ./autobuild-data
# log_dir defaults to <data_dir>/logs

engine:
  max_concurrent_builds: 2
  worker_interval: 1s
  monitor_interval: 2s
  reconcile_interval: 10s
  debounce_window: 5s
  stop_grace_period: 5s
  # applied when configure_profile omits timeout_seconds; 0 disables
  default_timeout_seconds: 300

server:
  port: 5305

history:
  enabled: true
  # path defaults to <data_dir>/history.db

notify:
  enabled: false
  # url: nats://localhost:4222
  # subject: autobuild.runs

metrics:
  enabled: true
  path: /metrics
`
