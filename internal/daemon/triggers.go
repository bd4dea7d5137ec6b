package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

// consumeTriggers drains debounced rebuild requests. Exits when the
// subscription channel closes at engine shutdown.
func (e *Engine) consumeTriggers(ctx context.Context, ch <-chan events.RebuildRequested) {
	for evt := range ch {
		e.handleRebuildRequested(ctx, evt)
	}
}

// handleRebuildRequested re-validates a trigger against current state before
// acting. Between debounce expiry and delivery the profile may have been
// deleted, disabled, or put in flight; a stale trigger must never enqueue.
func (e *Engine) handleRebuildRequested(_ context.Context, evt events.RebuildRequested) {
	e.metrics.IncRebuildTrigger()

	e.mu.Lock()
	defer e.mu.Unlock()

	profiles, err := e.loadLocked()
	if err != nil {
		slog.Error("Trigger consumer cannot load profiles", logfields.Error(err))
		return
	}

	p := profiles[evt.Profile]
	if p == nil {
		slog.Debug("Dropping trigger for deleted profile", logfields.Profile(evt.Profile))
		return
	}
	if !p.AutobuildEnabled {
		slog.Debug("Dropping trigger for disabled profile", logfields.Profile(evt.Profile))
		return
	}

	now := time.Now().UTC()
	switch p.Status {
	case state.StatusQueued, state.StatusRunning:
		// Changes landed during an in-flight build: defer a single rebuild to
		// its completion instead of stacking queue entries.
		if p.RebuildOnCompletion {
			return
		}
		p.RebuildOnCompletion = true
		p.UpdatedAt = now
		if err := e.persistLocked(profiles); err != nil {
			slog.Error("Failed to persist rebuild-on-completion flag", logfields.Error(err))
			return
		}
		slog.Info("Deferred rebuild until current build completes",
			logfields.Profile(evt.Profile),
			logfields.Status(string(p.Status)))
	default:
		pos, err := e.enqueueLocked(profiles, p, now)
		if err != nil {
			slog.Warn("Could not enqueue triggered build",
				logfields.Profile(evt.Profile),
				logfields.Error(err))
			return
		}
		slog.Info("Build queued from file change",
			logfields.Profile(evt.Profile),
			logfields.Path(evt.LastPath),
			slog.Int("event_count", evt.EventCount),
			logfields.QueueDepth(pos))
	}
}

// consumeRunFinished fans settled runs out to metrics, history, and external
// notification. All three are best-effort side channels: a failure is logged
// and never feeds back into the build lifecycle.
func (e *Engine) consumeRunFinished(ctx context.Context, ch <-chan events.RunFinished) {
	for evt := range ch {
		e.metrics.IncBuildOutcome(evt.Status)
		e.metrics.ObserveBuildDuration(evt.FinishedAt.Sub(evt.StartedAt))

		if e.history != nil {
			if err := e.history.Record(ctx, evt); err != nil {
				slog.Warn("Failed to record run history",
					logfields.Profile(evt.Profile),
					logfields.RunID(evt.RunID),
					logfields.Error(err))
			}
		}
		if e.notifier != nil {
			if err := e.notifier.Publish(evt); err != nil {
				slog.Warn("Failed to publish run notification",
					logfields.Profile(evt.Profile),
					logfields.RunID(evt.RunID),
					logfields.Error(err))
			}
		}
	}
}
