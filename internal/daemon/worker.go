package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// runHandle tracks one spawned build process. The reaper goroutine is the
// only writer of exitCode and waitErr; it closes done afterwards, so any
// reader that observed done closed sees the final values.
type runHandle struct {
	profile   string
	runID     string
	pid       int
	cmd       *exec.Cmd
	logPath   string
	startedAt time.Time
	timeout   time.Duration // 0 disables timeout enforcement

	done     chan struct{}
	exitCode int
	waitErr  error

	// stopRequested hands settlement ownership to StopBuild; the monitor
	// skips such handles. Guarded by the engine mutex.
	stopRequested bool
	// timeoutFired records that the monitor dispatched a timeout kill, so the
	// eventual settlement reports a timeout instead of a plain failure.
	timeoutFired bool
}

// finished reports whether the reaper has collected the process.
func (h *runHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// reap waits for process exit, records the outcome, and releases the log
// file. It runs detached: a build may outlive the engine, in which case the
// next startup's orphan recovery settles the profile.
func (h *runHandle) reap(logFile *os.File) {
	err := h.cmd.Wait()
	switch e := err.(type) {
	case nil:
		h.exitCode = 0
	case *exec.ExitError:
		h.exitCode = e.ExitCode()
	default:
		h.exitCode = -1
		h.waitErr = err
	}
	if cerr := logFile.Close(); cerr != nil {
		slog.Warn("Failed to close build log",
			logfields.Profile(h.profile),
			logfields.RunID(h.runID),
			logfields.Error(cerr))
	}
	close(h.done)
}

// workerPump drains the queue head while capacity remains. One pump never
// spawns more than the concurrency limit allows; the queue keeps the rest in
// arrival order.
func (e *Engine) workerPump() {
	finished := e.pumpOnce()
	for _, evt := range finished {
		e.publishRunFinished(evt)
	}
}

func (e *Engine) pumpOnce() []events.RunFinished {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.depth() == 0 {
		e.updateGaugesLocked()
		return nil
	}

	profiles, err := e.loadLocked()
	if err != nil {
		slog.Error("Worker cannot load profiles", logfields.Error(err))
		return nil
	}

	var spawnFailures []events.RunFinished
	changed := false
	for len(e.running) < e.cfg.Engine.MaxConcurrentBuilds {
		name, ok := e.queue.pop()
		if !ok {
			break
		}
		p := profiles[name]
		if p == nil {
			slog.Warn("Queued profile vanished before launch", logfields.Profile(name))
			continue
		}
		if p.Status != state.StatusQueued {
			slog.Warn("Skipping queue entry with unexpected status",
				logfields.Profile(name),
				logfields.Status(string(p.Status)))
			continue
		}
		// Dequeue consumes any pending rebuild request: the run about to
		// start already covers it.
		p.RebuildOnCompletion = false
		if evt := e.launchLocked(p); evt != nil {
			spawnFailures = append(spawnFailures, *evt)
		}
		changed = true
	}

	if changed {
		if err := e.persistLocked(profiles); err != nil {
			slog.Error("Worker failed to persist profiles", logfields.Error(err))
		}
	}
	e.updateGaugesLocked()
	return spawnFailures
}

// launchLocked spawns the build process for a queued profile and installs its
// run handle. On spawn failure the profile settles to failed immediately and
// the returned event carries the attempt for history and notification.
// Callers hold e.mu.
func (e *Engine) launchLocked(p *state.BuildProfile) *events.RunFinished {
	runID := uuid.NewString()
	now := time.Now().UTC()
	logPath := e.logs.RunLogPath(runID)

	logFile, err := e.logs.Create(runID)
	if err != nil {
		return e.settleSpawnFailureLocked(p, runID, logPath, now, fmt.Sprintf("failed to create build log: %v", err))
	}

	cmd := exec.Command("sh", "-c", p.BuildCommand)
	cmd.Dir = p.ProjectPath
	cmd.Env = mergedEnv(p.Environment)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		if cerr := logFile.Close(); cerr != nil {
			slog.Warn("Failed to close build log after spawn failure", logfields.RunID(runID), logfields.Error(cerr))
		}
		return e.settleSpawnFailureLocked(p, runID, logPath, now, fmt.Sprintf("spawn failed: %v", err))
	}

	h := &runHandle{
		profile:   p.Name,
		runID:     runID,
		pid:       cmd.Process.Pid,
		cmd:       cmd,
		logPath:   logPath,
		startedAt: now,
		timeout:   time.Duration(p.TimeoutSeconds) * time.Second,
		done:      make(chan struct{}),
	}
	e.running[p.Name] = h

	p.Status = state.StatusRunning
	p.LastRun = &state.RunRecord{
		RunID:     runID,
		PID:       h.pid,
		StartTime: now,
		LogFile:   logPath,
	}
	p.UpdatedAt = now

	go h.reap(logFile)

	slog.Info("Build started",
		logfields.Profile(p.Name),
		logfields.RunID(runID),
		logfields.PID(h.pid),
		slog.String("command", p.BuildCommand))
	return nil
}

// settleSpawnFailureLocked records a build attempt that never produced a
// process. Queued settles straight to failed; there is no PID to monitor.
func (e *Engine) settleSpawnFailureLocked(p *state.BuildProfile, runID, logPath string, now time.Time, note string) *events.RunFinished {
	end := now
	p.Status = state.StatusFailed
	p.LastRun = &state.RunRecord{
		RunID:     runID,
		StartTime: now,
		EndTime:   &end,
		LogFile:   logPath,
		Note:      note,
	}
	p.UpdatedAt = now
	e.metrics.IncSpawnFailure()

	slog.Error("Build spawn failed",
		logfields.Profile(p.Name),
		logfields.RunID(runID),
		slog.String("note", note))

	return &events.RunFinished{
		Profile:    p.Name,
		RunID:      runID,
		Status:     string(state.StatusFailed),
		ExitCode:   -1,
		Note:       note,
		LogFile:    logPath,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// publishRunFinished hands a settled run to the bus. Called without e.mu held
// so a full consumer buffer can never deadlock against engine state.
func (e *Engine) publishRunFinished(evt events.RunFinished) {
	if err := e.bus.Publish(e.runCtx, evt); err != nil {
		slog.Warn("Failed to publish run-finished event",
			logfields.Profile(evt.Profile),
			logfields.RunID(evt.RunID),
			logfields.Error(err))
	}
}

// updateGaugesLocked refreshes queue and running gauges. Callers hold e.mu.
func (e *Engine) updateGaugesLocked() {
	e.metrics.SetQueueDepth(e.queue.depth())
	e.metrics.SetRunningBuilds(len(e.running))
}

// mergedEnv layers profile variables over the daemon environment. Later
// entries win for duplicate keys, so profile values override inherited ones.
func mergedEnv(profileEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range profileEnv {
		env = append(env, k+"="+v)
	}
	return env
}
