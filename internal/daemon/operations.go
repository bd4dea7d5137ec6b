package daemon

import (
	"log/slog"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// ProfileSpec carries the caller-supplied fields of configure. A nil
// TimeoutSeconds selects the configured default; an explicit zero disables
// timeout enforcement for the profile.
type ProfileSpec struct {
	Name           string
	ProjectPath    string
	BuildCommand   string
	Environment    map[string]string
	TimeoutSeconds *int
	IgnorePatterns []string
}

// StatusReport is the result of GetStatus.
type StatusReport struct {
	Name    string              `json:"name"`
	Status  state.ProfileStatus `json:"status"`
	Note    string              `json:"note,omitempty"`
	LastRun *state.RunRecord    `json:"last_run,omitempty"`
}

// StopResult describes how a stop request resolved.
type StopResult struct {
	Name   string              `json:"name"`
	Status state.ProfileStatus `json:"status"`
	Note   string              `json:"note"`
}

// LogResult is the result of GetLog.
type LogResult struct {
	RunID string `json:"run_id"`
	Log   string `json:"log"`
}

// ConfigureProfile creates or replaces a profile. The profile resets to
// configured with autobuild disabled; reserved ignore patterns are merged in
// regardless of caller input. Reconfiguring a queued or running profile is
// rejected.
func (e *Engine) ConfigureProfile(spec ProfileSpec) error {
	if spec.Name == "" {
		return aerrors.ValidationFailed("name", "must not be empty")
	}
	if spec.ProjectPath == "" {
		return aerrors.ValidationFailed("project_path", "must not be empty")
	}
	if !filepath.IsAbs(spec.ProjectPath) {
		return aerrors.ValidationFailed("project_path", "must be an absolute path")
	}
	if spec.BuildCommand == "" {
		return aerrors.ValidationFailed("build_command", "must not be empty")
	}
	if spec.TimeoutSeconds != nil && *spec.TimeoutSeconds < 0 {
		return aerrors.ValidationFailed("timeout_seconds", "must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	timeout := e.cfg.Engine.DefaultTimeoutSeconds
	if spec.TimeoutSeconds != nil {
		timeout = *spec.TimeoutSeconds
	}

	p := &state.BuildProfile{
		Name:             spec.Name,
		ProjectPath:      filepath.Clean(spec.ProjectPath),
		BuildCommand:     spec.BuildCommand,
		Environment:      spec.Environment,
		TimeoutSeconds:   timeout,
		AutobuildEnabled: false,
		IgnorePatterns:   state.MergeIgnorePatterns(e.reserved, spec.IgnorePatterns),
		Status:           state.StatusConfigured,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if existing := profiles[spec.Name]; existing != nil {
		if !existing.Status.IsSettled() {
			return aerrors.InvalidState(spec.Name, string(existing.Status), "configure")
		}
		// Reconfigure keeps the creation stamp and the last run so the log
		// of the previous build stays reachable.
		p.CreatedAt = existing.CreatedAt
		p.LastRun = existing.LastRun
	}

	profiles[spec.Name] = p
	if err := e.persistLocked(profiles); err != nil {
		return err
	}

	slog.Info("Profile configured",
		logfields.Profile(spec.Name),
		logfields.Path(p.ProjectPath),
		slog.String("command", p.BuildCommand),
		slog.Int("timeout_seconds", timeout))
	return nil
}

// ToggleAutobuild flips the watch gate for a profile. The watcher manager
// converges the detector registry on its next reconcile pass.
func (e *Engine) ToggleAutobuild(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return err
	}
	p := profiles[name]
	if p == nil {
		return aerrors.ProfileNotFound(name)
	}

	p.AutobuildEnabled = enabled
	p.UpdatedAt = time.Now().UTC()
	if err := e.persistLocked(profiles); err != nil {
		return err
	}

	slog.Info("Autobuild toggled", logfields.Profile(name), slog.Bool("enabled", enabled))
	return nil
}

// StartBuild enqueues a manual build and returns the 1-based queue position.
// Queued and running profiles reject a second start rather than stacking.
func (e *Engine) StartBuild(name string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return 0, err
	}
	p := profiles[name]
	if p == nil {
		return 0, aerrors.ProfileNotFound(name)
	}

	pos, err := e.enqueueLocked(profiles, p, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	slog.Info("Build queued", logfields.Profile(name), logfields.QueueDepth(pos))
	return pos, nil
}

// enqueueLocked transitions a profile to queued, pushes it, and persists.
// On save failure the queue entry is withdrawn so memory and disk stay
// consistent. Callers hold e.mu.
func (e *Engine) enqueueLocked(profiles map[string]*state.BuildProfile, p *state.BuildProfile, now time.Time) (int, error) {
	if !state.CanTransition(p.Status, state.StatusQueued) {
		return 0, aerrors.InvalidState(p.Name, string(p.Status), "start")
	}
	pos, ok := e.queue.push(p.Name)
	if !ok {
		return 0, aerrors.InvalidState(p.Name, string(p.Status), "start").
			WithContext("reason", "already queued")
	}

	p.Status = state.StatusQueued
	p.UpdatedAt = now
	if err := e.persistLocked(profiles); err != nil {
		e.queue.remove(p.Name)
		return 0, err
	}
	e.metrics.SetQueueDepth(e.queue.depth())
	return pos, nil
}

// StopBuild terminates a running build's whole process tree. A PID that
// turns out to be already dead corrects the profile to stopped and reports
// that, rather than failing. Termination failure after kill escalation is
// surfaced and leaves the profile running for the monitor to keep polling.
func (e *Engine) StopBuild(name string) (StopResult, error) {
	e.mu.Lock()

	profiles, err := e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		return StopResult{}, err
	}
	p := profiles[name]
	if p == nil {
		e.mu.Unlock()
		return StopResult{}, aerrors.ProfileNotFound(name)
	}
	if p.Status != state.StatusRunning {
		e.mu.Unlock()
		return StopResult{}, aerrors.InvalidState(name, string(p.Status), "stop")
	}

	h := e.running[name]
	pid := 0
	if h != nil {
		pid = h.pid
	} else if p.LastRun != nil {
		pid = p.LastRun.PID
	}

	exited := pid <= 0 || !pidAlive(pid)
	if h != nil && h.finished() {
		exited = true
	}
	if exited {
		res, evt := e.settleStoppedLocked(profiles, p, h, "process already exited; corrected to stopped")
		e.mu.Unlock()
		if evt != nil {
			e.publishRunFinished(*evt)
		}
		return res, nil
	}

	// Hand settlement to this call and release the engine while the kill
	// escalation runs; holding the lock for the grace window would stall
	// every loop and status query.
	if h != nil {
		h.stopRequested = true
	}
	grace := e.cfg.Engine.StopGrace()
	e.mu.Unlock()

	slog.Info("Stopping build", logfields.Profile(name), logfields.PID(pid))
	killErr := terminateTree(pid, grace)

	e.mu.Lock()
	if killErr != nil {
		if h != nil {
			h.stopRequested = false
		}
		e.mu.Unlock()
		return StopResult{}, aerrors.ProcessControlFailed(name, pid, killErr)
	}

	profiles, err = e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		return StopResult{}, err
	}
	p = profiles[name]
	if p == nil {
		e.mu.Unlock()
		return StopResult{}, aerrors.ProfileNotFound(name)
	}
	res, evt := e.settleStoppedLocked(profiles, p, h, "stopped by user")
	e.mu.Unlock()
	if evt != nil {
		e.publishRunFinished(*evt)
	}
	return res, nil
}

// settleStoppedLocked writes the stopped outcome, drops the run handle, and
// persists. An explicit stop overrides any deferred rebuild: the operator
// asked for quiet, so the flag clears without re-enqueueing. Callers hold
// e.mu; the returned event, if any, must be published after unlock.
func (e *Engine) settleStoppedLocked(profiles map[string]*state.BuildProfile, p *state.BuildProfile, h *runHandle, note string) (StopResult, *events.RunFinished) {
	now := time.Now().UTC()
	p.Status = state.StatusStopped
	p.RebuildOnCompletion = false
	if p.LastRun != nil {
		if p.LastRun.EndTime == nil {
			end := now
			p.LastRun.EndTime = &end
		}
		p.LastRun.Note = note
	}
	p.UpdatedAt = now
	delete(e.running, p.Name)

	if err := e.persistLocked(profiles); err != nil {
		slog.Error("Failed to persist stop outcome", logfields.Profile(p.Name), logfields.Error(err))
	}
	e.updateGaugesLocked()

	slog.Info("Build stopped", logfields.Profile(p.Name), slog.String("note", note))

	res := StopResult{Name: p.Name, Status: state.StatusStopped, Note: note}
	if h == nil {
		return res, nil
	}
	exitCode := -1
	if h.finished() {
		exitCode = h.exitCode
	}
	return res, &events.RunFinished{
		Profile:    p.Name,
		RunID:      h.runID,
		PID:        h.pid,
		Status:     string(state.StatusStopped),
		ExitCode:   exitCode,
		Note:       note,
		LogFile:    h.logPath,
		StartedAt:  h.startedAt,
		FinishedAt: now,
	}
}

// GetStatus reports a profile's status without blocking on any process
// operation. A running profile whose process has exited but not yet been
// reconciled reports a transient unknown; the persisted status is left for
// the monitor to settle.
func (e *Engine) GetStatus(name string) (StatusReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return StatusReport{}, err
	}
	p := profiles[name]
	if p == nil {
		return StatusReport{}, aerrors.ProfileNotFound(name)
	}

	report := StatusReport{
		Name:    name,
		Status:  p.Status,
		LastRun: p.LastRun,
	}
	if p.LastRun != nil {
		report.Note = p.LastRun.Note
	}

	if p.Status == state.StatusRunning {
		h := e.running[name]
		dead := false
		switch {
		case h != nil:
			dead = h.finished()
		case p.LastRun != nil && p.LastRun.PID > 0:
			dead = !pidAlive(p.LastRun.PID)
		}
		if dead {
			report.Status = state.StatusUnknown
			report.Note = "build process has exited; awaiting monitor reconciliation"
		}
	}

	return report, nil
}

// ListProfiles returns a point-in-time name-to-status snapshot.
func (e *Engine) ListProfiles() (map[string]state.ProfileStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make(map[string]state.ProfileStatus, len(profiles))
	for name, p := range profiles {
		out[name] = p.Status
	}
	return out, nil
}

// GetLog returns the last run's log, optionally limited to the trailing
// tailLines lines. The file read happens outside the engine lock.
func (e *Engine) GetLog(name string, tailLines int) (LogResult, error) {
	e.mu.Lock()
	profiles, err := e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		return LogResult{}, err
	}
	p := profiles[name]
	if p == nil {
		e.mu.Unlock()
		return LogResult{}, aerrors.ProfileNotFound(name)
	}
	if p.LastRun == nil {
		e.mu.Unlock()
		return LogResult{}, aerrors.LogUnavailable(name, "no build has run yet")
	}
	runID := p.LastRun.RunID
	logPath := p.LastRun.LogFile
	e.mu.Unlock()

	content, err := e.logs.Read(logPath, tailLines)
	if err != nil {
		return LogResult{}, aerrors.LogUnavailable(name, err.Error())
	}
	return LogResult{RunID: runID, Log: content}, nil
}

// DeleteProfile removes a profile and any pending queue entry. Running
// profiles must be stopped first. The watcher manager retires the profile's
// detector on its next reconcile pass.
func (e *Engine) DeleteProfile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		return err
	}
	p := profiles[name]
	if p == nil {
		return aerrors.ProfileNotFound(name)
	}
	if p.Status == state.StatusRunning {
		return aerrors.InvalidState(name, string(p.Status), "delete")
	}

	e.queue.remove(name)
	delete(profiles, name)
	if err := e.persistLocked(profiles); err != nil {
		return err
	}
	e.metrics.SetQueueDepth(e.queue.depth())

	slog.Info("Profile deleted", logfields.Profile(name))
	return nil
}
