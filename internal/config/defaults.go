package config

import "path/filepath"

const (
	defaultDataDir = "./autobuild-data"

	defaultMaxConcurrentBuilds = 2
	defaultWorkerInterval      = "1s"
	defaultMonitorInterval     = "2s"
	defaultReconcileInterval   = "10s"
	defaultDebounceWindow      = "5s"
	defaultStopGracePeriod     = "5s"
	defaultTimeoutSeconds      = 300

	defaultServerPort = 5305

	defaultNATSSubject = "autobuild.runs"

	defaultMetricsPath = "/metrics"
)

// applyDefaults fills in every unset field. It is idempotent and always runs
// before validation so the validator can assume a fully populated document.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}

	if cfg.Engine.MaxConcurrentBuilds == 0 {
		cfg.Engine.MaxConcurrentBuilds = defaultMaxConcurrentBuilds
	}
	if cfg.Engine.WorkerInterval == "" {
		cfg.Engine.WorkerInterval = defaultWorkerInterval
	}
	if cfg.Engine.MonitorInterval == "" {
		cfg.Engine.MonitorInterval = defaultMonitorInterval
	}
	if cfg.Engine.ReconcileInterval == "" {
		cfg.Engine.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.Engine.DebounceWindow == "" {
		cfg.Engine.DebounceWindow = defaultDebounceWindow
	}
	if cfg.Engine.StopGracePeriod == "" {
		cfg.Engine.StopGracePeriod = defaultStopGracePeriod
	}
	if cfg.Engine.DefaultTimeoutSeconds == 0 {
		cfg.Engine.DefaultTimeoutSeconds = defaultTimeoutSeconds
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}

	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}

	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = defaultNATSSubject
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}
