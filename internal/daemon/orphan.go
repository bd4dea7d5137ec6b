package daemon

import (
	"log/slog"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

const (
	noteOrphanDead  = "server restarted mid-build; outcome unknown"
	noteOrphanAlive = "server restarted mid-build; process still running but no longer tracked"
)

// recoverOrphans settles profiles persisted as running by a previous daemon
// instance. Without an in-memory handle their outcome cannot be determined,
// so they move to unknown rather than guessing success or failure. Runs once,
// during Start, before any loop can observe the stale rows.
func (e *Engine) recoverOrphans() {
	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		slog.Error("Orphan recovery cannot load profiles", logfields.Error(err))
		return
	}

	now := time.Now().UTC()
	recovered := 0
	for name, p := range profiles {
		if p.Status != state.StatusRunning {
			continue
		}

		note := noteOrphanDead
		pid := 0
		if p.LastRun != nil {
			pid = p.LastRun.PID
		}
		if pid > 0 && pidAlive(pid) {
			// Re-attaching to a process we did not spawn is hopeless: no exit
			// code will ever be collected. Leave it running and record that.
			note = noteOrphanAlive
		}

		p.Status = state.StatusUnknown
		p.RebuildOnCompletion = false
		if p.LastRun != nil {
			if p.LastRun.EndTime == nil {
				end := now
				p.LastRun.EndTime = &end
			}
			p.LastRun.Note = note
		}
		p.UpdatedAt = now
		recovered++

		slog.Warn("Recovered orphaned build",
			logfields.Profile(name),
			logfields.PID(pid),
			slog.String("note", note))
	}

	if recovered == 0 {
		return
	}
	if err := e.persistLocked(profiles); err != nil {
		slog.Error("Failed to persist orphan recovery", logfields.Error(err))
		return
	}
	slog.Info("Orphan recovery complete", slog.Int("recovered", recovered))
}
