package daemon

import (
	"log/slog"

	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// reconcileWatchers diffs the detector registry against the set of profiles
// with autobuild enabled, starting and stopping detectors to match. It is the
// registry's only writer while the engine runs; Stop takes over after the
// scheduler is down.
func (e *Engine) reconcileWatchers() {
	type desiredWatch struct {
		path     string
		patterns []string
	}

	e.mu.Lock()
	profiles, err := e.loadLocked()
	if err != nil {
		e.mu.Unlock()
		slog.Error("Reconcile cannot load profiles", logfields.Error(err))
		return
	}

	desired := make(map[string]desiredWatch)
	for name, p := range profiles {
		if p.AutobuildEnabled {
			desired[name] = desiredWatch{path: p.ProjectPath, patterns: p.IgnorePatterns}
		}
	}

	var toStop []*changeDetector
	for name, d := range e.watchers {
		if _, keep := desired[name]; !keep {
			toStop = append(toStop, d)
			delete(e.watchers, name)
		}
	}

	toStart := make(map[string]desiredWatch)
	for name, w := range desired {
		if _, running := e.watchers[name]; !running {
			toStart[name] = w
		}
	}
	e.mu.Unlock()

	// Joining a detector can take a moment; never do it under the engine lock.
	for _, d := range toStop {
		d.stop()
		slog.Info("Stopped watching profile", logfields.Profile(d.profile))
	}

	for name, w := range toStart {
		d, err := newChangeDetector(name, w.path, mergedIgnorePatterns(e.reserved, w.patterns), e.cfg.Engine.Debounce(), e.bus)
		if err != nil {
			// Loud but non-fatal: the profile keeps autobuild enabled and the
			// next reconcile pass retries.
			slog.Error("Watch setup failed", logfields.Profile(name), logfields.Path(w.path), logfields.Error(err))
			continue
		}
		d.start(e.runCtx)

		e.mu.Lock()
		e.watchers[name] = d
		watched := len(e.watchers)
		e.mu.Unlock()

		slog.Info("Watching profile for changes",
			logfields.Profile(name),
			logfields.Path(w.path),
			slog.Int("watched_profiles", watched))
	}

	e.mu.Lock()
	e.metrics.SetWatchedProfiles(len(e.watchers))
	e.mu.Unlock()
}

// mergedIgnorePatterns guards against profiles persisted before the reserved
// set existed. Configure already merges, so this is usually a no-op.
func mergedIgnorePatterns(reserved, stored []string) []string {
	return state.MergeIgnorePatterns(reserved, stored)
}
