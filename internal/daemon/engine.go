// Package daemon hosts the build orchestration engine: the bounded build
// queue and worker, the debounced per-profile change detectors, the watcher
// reconciliation loop, the status monitor, process stop control, and orphan
// recovery at startup.
package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/autobuild/internal/buildlog"
	"git.home.luguber.info/inful/autobuild/internal/config"
	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/metrics"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// Status represents the lifecycle state of the engine itself.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// RunRecorder persists finished runs for later querying. The engine treats
// recording as best-effort; failures are logged, never propagated into the
// build lifecycle.
type RunRecorder interface {
	Record(ctx context.Context, run events.RunFinished) error
}

// RunNotifier broadcasts finished runs to external consumers.
type RunNotifier interface {
	Publish(run events.RunFinished) error
}

// Options carries the engine's injected dependencies. Config, Store, and Logs
// are required; everything else defaults to a working no-op.
type Options struct {
	Config   *config.Config
	Store    *state.Store
	Logs     *buildlog.Manager
	Bus      *events.Bus      // optional; the engine creates and owns one when nil
	Metrics  metrics.Recorder // optional; NoopRecorder when nil
	History  RunRecorder      // optional
	Notifier RunNotifier      // optional
}

// Engine owns all mutable orchestration state: the build queue, the table of
// running processes, and the registry of change detectors. Every mutation of
// persisted profiles runs under one mutex, serializing the store's
// load/mutate/save cycles so concurrent logical operations never interleave.
type Engine struct {
	cfg      *config.Config
	store    *state.Store
	logs     *buildlog.Manager
	bus      *events.Bus
	ownBus   bool
	metrics  metrics.Recorder
	history  RunRecorder
	notifier RunNotifier

	// reserved ignore patterns merged into every profile.
	reserved []string

	mu       sync.Mutex
	queue    buildQueue
	running  map[string]*runHandle
	watchers map[string]*changeDetector

	scheduler gocron.Scheduler
	workers   workerGroup
	unsubs    []func()
	runCtx    context.Context
	runCancel context.CancelFunc

	status    atomic.Value // Status
	startTime time.Time
}

// NewEngine builds an engine from its dependencies. It performs no I/O; the
// store is first touched by Start's orphan recovery pass.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, aerrors.ConfigRequired("engine configuration")
	}
	if opts.Store == nil {
		return nil, aerrors.New(aerrors.CategoryInternal, aerrors.SeverityFatal, "profile store is required")
	}
	if opts.Logs == nil {
		return nil, aerrors.New(aerrors.CategoryInternal, aerrors.SeverityFatal, "build log manager is required")
	}

	bus := opts.Bus
	ownBus := false
	if bus == nil {
		bus = events.NewBus()
		ownBus = true
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	e := &Engine{
		cfg:      opts.Config,
		store:    opts.Store,
		logs:     opts.Logs,
		bus:      bus,
		ownBus:   ownBus,
		metrics:  rec,
		history:  opts.History,
		notifier: opts.Notifier,
		reserved: state.ReservedIgnorePatterns(filepath.Base(opts.Config.LogDir)),
		running:  make(map[string]*runHandle),
		watchers: make(map[string]*changeDetector),
		runCtx:   context.Background(),
	}
	e.status.Store(StatusStopped)
	return e, nil
}

// Start recovers orphaned runs, subscribes the trigger and run-finished
// consumers, and launches the three periodic loops. It does not block; the
// loops are owned by the scheduler until Stop.
func (e *Engine) Start(ctx context.Context) error {
	if e.Status() != StatusStopped {
		return aerrors.DaemonError("engine is not in stopped state").
			WithContext("status", string(e.Status()))
	}

	e.status.Store(StatusStarting)
	e.startTime = time.Now()
	e.runCtx, e.runCancel = context.WithCancel(ctx)

	slog.Info("Starting build engine",
		slog.Int("max_concurrent_builds", e.cfg.Engine.MaxConcurrentBuilds),
		slog.Duration("debounce_window", e.cfg.Engine.Debounce()))

	// Orphan recovery runs exactly once, before any loop can observe a stale
	// running profile.
	e.recoverOrphans()

	// Consumers subscribe before any detector or loop can publish.
	trigCh, trigUnsub := events.Subscribe[events.RebuildRequested](e.bus, eventBuffer)
	finCh, finUnsub := events.Subscribe[events.RunFinished](e.bus, eventBuffer)
	e.unsubs = []func(){trigUnsub, finUnsub}
	e.workers.Go(func() { e.consumeTriggers(e.runCtx, trigCh) })
	e.workers.Go(func() { e.consumeRunFinished(e.runCtx, finCh) })

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		e.status.Store(StatusError)
		return aerrors.InternalError("failed to create scheduler", err)
	}
	e.scheduler = scheduler

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"build-worker", e.cfg.Engine.WorkerEvery(), e.workerPump},
		{"status-monitor", e.cfg.Engine.MonitorEvery(), e.monitorSweep},
		{"watcher-reconcile", e.cfg.Engine.ReconcileEvery(), e.reconcileWatchers},
	}
	for _, j := range jobs {
		_, err := scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			e.status.Store(StatusError)
			return aerrors.InternalError("failed to schedule engine loop", err).
				WithContext("job", j.name)
		}
	}
	scheduler.Start()

	e.status.Store(StatusRunning)
	slog.Info("Build engine started")
	return nil
}

// eventBuffer sizes the consumer subscriptions. Detector publishes block once
// the buffer fills, which backpressures watch bursts instead of dropping them.
const eventBuffer = 64

// Stop shuts the engine down: loops first, then detectors (stopped and fully
// joined so no event fires after return), then a final monitor sweep to
// settle builds that exited during shutdown. Processes still running are left
// alive; the next startup's orphan recovery settles their profiles.
func (e *Engine) Stop(ctx context.Context) error {
	current := e.Status()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}
	e.status.Store(StatusStopping)
	slog.Info("Stopping build engine")

	if e.scheduler != nil {
		if err := e.scheduler.Shutdown(); err != nil {
			slog.Error("Failed to shut down scheduler", logfields.Error(err))
		}
	}

	// The reconcile loop is down, so this is the only registry writer left.
	e.mu.Lock()
	detectors := make([]*changeDetector, 0, len(e.watchers))
	for _, d := range e.watchers {
		detectors = append(detectors, d)
	}
	e.watchers = make(map[string]*changeDetector)
	e.mu.Unlock()
	for _, d := range detectors {
		d.stop()
	}
	e.metrics.SetWatchedProfiles(0)

	// Settle anything that exited while we were tearing down.
	e.monitorSweep()

	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	if e.ownBus {
		e.bus.Close()
	}

	if e.runCancel != nil {
		e.runCancel()
	}
	if err := e.workers.StopAndWait(ctx); err != nil {
		slog.Warn("Engine workers did not stop in time", logfields.Error(err))
	}

	e.status.Store(StatusStopped)
	slog.Info("Build engine stopped", slog.Duration("uptime", time.Since(e.startTime)))
	return nil
}

// Status returns the engine lifecycle status.
func (e *Engine) Status() Status {
	s, ok := e.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return s
}

// StartTime returns when the engine was started.
func (e *Engine) StartTime() time.Time { return e.startTime }

// Snapshot is a point-in-time view of engine load, used by the health
// endpoint. It is advisory: values may be a poll interval stale.
type Snapshot struct {
	Status          Status `json:"status"`
	QueueDepth      int    `json:"queue_depth"`
	RunningBuilds   int    `json:"running_builds"`
	WatchedProfiles int    `json:"watched_profiles"`
}

// Snapshot reports current queue, table, and registry sizes.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Status:          e.Status(),
		QueueDepth:      e.queue.depth(),
		RunningBuilds:   len(e.running),
		WatchedProfiles: len(e.watchers),
	}
}

// loadLocked reads the full profile document. Callers hold e.mu.
func (e *Engine) loadLocked() (map[string]*state.BuildProfile, error) {
	return e.store.Load()
}

// persistLocked writes the full profile document. Callers hold e.mu.
func (e *Engine) persistLocked(profiles map[string]*state.BuildProfile) error {
	return e.store.Save(profiles)
}
