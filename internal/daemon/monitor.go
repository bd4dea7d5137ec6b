package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// monitorSweep settles exited builds and enforces per-profile timeouts. Run
// events are published only after the engine mutex is released, so a slow or
// full consumer can never deadlock the sweep.
func (e *Engine) monitorSweep() {
	finished := e.sweepOnce()
	for _, evt := range finished {
		e.publishRunFinished(evt)
	}
}

func (e *Engine) sweepOnce() []events.RunFinished {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.running) == 0 {
		e.updateGaugesLocked()
		return nil
	}

	var profiles map[string]*state.BuildProfile
	var out []events.RunFinished
	changed := false

	for name, h := range e.running {
		if h.stopRequested {
			// StopBuild owns this handle until termination resolves.
			continue
		}
		if !h.finished() {
			e.enforceTimeoutLocked(h)
			continue
		}

		if profiles == nil {
			loaded, err := e.loadLocked()
			if err != nil {
				slog.Error("Monitor cannot load profiles", logfields.Error(err))
				break
			}
			profiles = loaded
		}

		delete(e.running, name)
		p := profiles[name]
		if p == nil {
			slog.Warn("Finished run has no profile", logfields.Profile(name), logfields.RunID(h.runID))
			continue
		}
		out = append(out, e.settleRunLocked(p, h))
		changed = true
	}

	if changed {
		if err := e.persistLocked(profiles); err != nil {
			slog.Error("Monitor failed to persist profiles", logfields.Error(err))
		}
	}
	e.updateGaugesLocked()
	return out
}

// enforceTimeoutLocked dispatches an asynchronous tree kill once a run
// exceeds its configured timeout. The sweep never blocks on termination; the reaper
// observes the exit and a later sweep settles the run as timed out.
func (e *Engine) enforceTimeoutLocked(h *runHandle) {
	if h.timeout <= 0 || h.timeoutFired {
		return
	}
	if time.Since(h.startedAt) < h.timeout {
		return
	}
	h.timeoutFired = true

	pid := h.pid
	profile := h.profile
	runID := h.runID
	grace := e.cfg.Engine.StopGrace()
	started := e.workers.Go(func() {
		if err := terminateTree(pid, grace); err != nil {
			slog.Error("Timeout kill failed; process may linger",
				logfields.Profile(profile),
				logfields.RunID(runID),
				logfields.PID(pid),
				logfields.Error(err))
		}
	})
	if !started {
		// Engine is shutting down; leave the process to orphan recovery.
		h.timeoutFired = false
		return
	}

	slog.Warn("Build exceeded timeout, terminating",
		logfields.Profile(profile),
		logfields.RunID(runID),
		logfields.PID(pid),
		slog.Duration("timeout", h.timeout))
}

// settleRunLocked writes the terminal outcome of a collected run into the
// profile. A pending rebuild request overrides the settled status back to
// queued; the run event still carries the real outcome. Callers hold e.mu.
func (e *Engine) settleRunLocked(p *state.BuildProfile, h *runHandle) events.RunFinished {
	now := time.Now().UTC()

	var outcome state.ProfileStatus
	var note string
	switch {
	case h.timeoutFired:
		outcome = state.StatusFailed
		note = fmt.Sprintf("build exceeded timeout of %s and was terminated", h.timeout)
	case h.waitErr != nil:
		outcome = state.StatusFailed
		note = fmt.Sprintf("process wait failed: %v", h.waitErr)
	case h.exitCode == 0:
		outcome = state.StatusSucceeded
	default:
		outcome = state.StatusFailed
		note = fmt.Sprintf("exit code %d", h.exitCode)
	}

	if p.LastRun != nil && p.LastRun.RunID == h.runID {
		p.LastRun.EndTime = &now
		p.LastRun.Note = note
	}

	if p.RebuildOnCompletion {
		p.RebuildOnCompletion = false
		p.Status = state.StatusQueued
		if pos, ok := e.queue.push(p.Name); ok {
			slog.Info("Re-queueing build after completion",
				logfields.Profile(p.Name),
				logfields.RunID(h.runID),
				logfields.QueueDepth(pos))
		}
	} else {
		p.Status = outcome
	}
	p.UpdatedAt = now

	slog.Info("Build finished",
		logfields.Profile(p.Name),
		logfields.RunID(h.runID),
		logfields.Status(string(outcome)),
		logfields.ExitCode(h.exitCode),
		logfields.DurationMS(float64(now.Sub(h.startedAt).Milliseconds())))

	return events.RunFinished{
		Profile:    p.Name,
		RunID:      h.runID,
		PID:        h.pid,
		Status:     string(outcome),
		ExitCode:   h.exitCode,
		Note:       note,
		LogFile:    h.logPath,
		StartedAt:  h.startedAt,
		FinishedAt: now,
	}
}
