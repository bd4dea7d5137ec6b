package config

import (
	"time"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
)

// Validate checks a fully defaulted configuration for operator mistakes.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return aerrors.ConfigRequired("data_dir")
	}

	if cfg.Engine.MaxConcurrentBuilds < 1 {
		return aerrors.ValidationFailed("engine.max_concurrent_builds", "must be at least 1")
	}
	if cfg.Engine.DefaultTimeoutSeconds < 0 {
		return aerrors.ValidationFailed("engine.default_timeout_seconds", "must not be negative")
	}

	durations := []struct {
		field string
		value string
	}{
		{"engine.worker_interval", cfg.Engine.WorkerInterval},
		{"engine.monitor_interval", cfg.Engine.MonitorInterval},
		{"engine.reconcile_interval", cfg.Engine.ReconcileInterval},
		{"engine.debounce_window", cfg.Engine.DebounceWindow},
		{"engine.stop_grace_period", cfg.Engine.StopGracePeriod},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return aerrors.ValidationFailed(d.field, "not a valid duration: "+d.value)
		}
		if parsed <= 0 {
			return aerrors.ValidationFailed(d.field, "must be positive")
		}
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return aerrors.ValidationFailed("server.port", "must be in 1..65535")
	}

	if cfg.Notify.Enabled && cfg.Notify.URL == "" {
		return aerrors.ValidationFailed("notify.url", "required when notify is enabled")
	}

	return nil
}
