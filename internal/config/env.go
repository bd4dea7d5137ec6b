package config

import (
	"os"
	"strconv"
)

// Operational knobs that deployments commonly set per-host without editing
// the config document. Overrides run before defaults so derived paths (log
// dir, history db) follow an overridden data_dir.
const (
	envDataDir       = "AUTOBUILD_DATA_DIR"
	envLogDir        = "AUTOBUILD_LOG_DIR"
	envServerPort    = "AUTOBUILD_PORT"
	envMaxConcurrent = "AUTOBUILD_MAX_CONCURRENT_BUILDS"
	envNATSURL       = "AUTOBUILD_NATS_URL"
)

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envLogDir); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv(envServerPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(envMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxConcurrentBuilds = n
		}
	}
	if v := os.Getenv(envNATSURL); v != "" {
		cfg.Notify.URL = v
		cfg.Notify.Enabled = true
	}
}
