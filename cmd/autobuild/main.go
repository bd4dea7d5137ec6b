package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/autobuild/internal/buildlog"
	"git.home.luguber.info/inful/autobuild/internal/config"
	"git.home.luguber.info/inful/autobuild/internal/daemon"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/history"
	"git.home.luguber.info/inful/autobuild/internal/metrics"
	"git.home.luguber.info/inful/autobuild/internal/notify"
	"git.home.luguber.info/inful/autobuild/internal/server"
	"git.home.luguber.info/inful/autobuild/internal/state"
	"git.home.luguber.info/inful/autobuild/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"autobuild.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the autobuild daemon"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	errOut := aerrors.NewCLIErrorAdapter(CLI.Verbose, logger)

	// A .env file feeds the AUTOBUILD_* overrides before the config file loads.
	_ = godotenv.Load()

	switch ctx.Command() {
	case "serve":
		cfg, err := config.LoadOrDefault(CLI.Config)
		if err != nil {
			errOut.HandleError(err)
		}
		if err := runServe(cfg); err != nil {
			errOut.HandleError(err)
		}
	case "init":
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			errOut.HandleError(err)
		}
	case "version":
		fmt.Printf("autobuild %s (commit: %s, built: %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
	}
}

func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	logs, err := buildlog.NewManager(cfg.LogDir)
	if err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.Metrics.IsEnabled() {
		reg := prometheus.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	var hist *history.Store
	if cfg.History.IsEnabled() {
		hist, err = history.NewStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer func() {
			if err := hist.Close(); err != nil {
				slog.Warn("Failed to close history store", "error", err)
			}
		}()
	}

	var notifier *notify.Publisher
	if cfg.Notify.Enabled {
		notifier, err = notify.NewPublisher(cfg.Notify.URL, cfg.Notify.Subject)
		if err != nil {
			return fmt.Errorf("failed to create notify publisher: %w", err)
		}
		defer notifier.Close()
	}

	// Conditional assignment keeps the optional interfaces nil when the
	// feature is off; a typed nil would defeat the engine's nil checks.
	engOpts := daemon.Options{Config: cfg, Store: store, Logs: logs, Metrics: rec}
	if hist != nil {
		engOpts.History = hist
	}
	if notifier != nil {
		engOpts.Notifier = notifier
	}
	eng, err := daemon.NewEngine(engOpts)
	if err != nil {
		return err
	}

	var histAPI server.HistoryAPI
	if hist != nil {
		histAPI = hist
	}
	srv := server.New(cfg, eng, histAPI, metricsHandler)

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if stopErr := eng.Stop(stopCtx); stopErr != nil {
			slog.Warn("Failed to stop engine after server startup failure", "error", stopErr)
		}
		return err
	}

	slog.Info("autobuild daemon started",
		"version", version.Version,
		"port", cfg.Server.Port,
		"data_dir", cfg.DataDir)

	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	var errs []error
	if err := srv.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := eng.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	slog.Info("Daemon stopped successfully")
	return nil
}

func runInit(configPath string, force bool) error {
	slog.Info("Initializing configuration", "path", configPath, "force", force)
	return config.Init(configPath, force)
}
