package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()

	require.Equal(t, defaultDataDir, cfg.DataDir)
	require.Equal(t, filepath.Join(defaultDataDir, "logs"), cfg.LogDir)
	require.Equal(t, 2, cfg.Engine.MaxConcurrentBuilds)
	require.Equal(t, time.Second, cfg.Engine.WorkerEvery())
	require.Equal(t, 2*time.Second, cfg.Engine.MonitorEvery())
	require.Equal(t, 10*time.Second, cfg.Engine.ReconcileEvery())
	require.Equal(t, 5*time.Second, cfg.Engine.Debounce())
	require.Equal(t, 5*time.Second, cfg.Engine.StopGrace())
	require.Equal(t, 300, cfg.Engine.DefaultTimeoutSeconds)
	require.Equal(t, 5305, cfg.Server.Port)
	require.True(t, cfg.History.IsEnabled())
	require.True(t, cfg.Metrics.IsEnabled())
	require.False(t, cfg.Notify.Enabled)
}

func TestLoadAppliesFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autobuild.yaml")
	doc := `
data_dir: /var/lib/autobuild
engine:
  max_concurrent_builds: 4
  debounce_window: 250ms
server:
  port: 8080
notify:
  enabled: true
  url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/autobuild", cfg.DataDir)
	require.Equal(t, filepath.Join("/var/lib/autobuild", "logs"), cfg.LogDir)
	require.Equal(t, 4, cfg.Engine.MaxConcurrentBuilds)
	require.Equal(t, 250*time.Millisecond, cfg.Engine.Debounce())
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "nats://localhost:4222", cfg.Notify.URL)
	require.Equal(t, defaultNATSSubject, cfg.Notify.Subject)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryConfig))
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autobuild.yaml")
	doc := `
engine:
  worker_interval: soon
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryValidation))
}

func TestLoadRejectsNotifyWithoutURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autobuild.yaml")
	doc := `
notify:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryValidation))
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err, "missing file falls back to defaults")
	require.Equal(t, 5305, cfg.Server.Port)

	path := filepath.Join(dir, "autobuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o644))
	cfg, err = LoadOrDefault(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(envDataDir, "/srv/ab")
	t.Setenv(envServerPort, "9900")
	t.Setenv(envMaxConcurrent, "6")

	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	require.Equal(t, "/srv/ab", cfg.DataDir)
	require.Equal(t, filepath.Join("/srv/ab", "logs"), cfg.LogDir)
	require.Equal(t, 9900, cfg.Server.Port)
	require.Equal(t, 6, cfg.Engine.MaxConcurrentBuilds)
}

func TestInitWritesExample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autobuild.yaml")

	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false), "refuses to overwrite without force")
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Engine.MaxConcurrentBuilds)
}
