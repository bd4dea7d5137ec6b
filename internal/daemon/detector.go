package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/ignore"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
)

// changeDetector owns one profile's recursive filesystem watch and its
// debounce window. It never touches engine state: the only thing that leaves
// a detector is a RebuildRequested event on the bus.
type changeDetector struct {
	profile  string
	root     string
	matcher  *ignore.Matcher
	debounce time.Duration
	bus      *events.Bus

	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// mu guards the debounce timer and the pending-event accumulator against
	// the timer callback, which runs on its own goroutine.
	mu         sync.Mutex
	stopped    bool
	timer      *time.Timer
	eventCount int
	lastPath   string
}

// newChangeDetector validates the project path, registers watches on the
// whole directory tree, and returns a detector ready to start. Any failure
// here is a watch setup failure: the caller logs it and retries on the next
// reconcile pass.
func newChangeDetector(profile, projectPath string, patterns []string, debounce time.Duration, bus *events.Bus) (*changeDetector, error) {
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, aerrors.WatchSetupFailed(profile, projectPath, err)
	}
	if !info.IsDir() {
		return nil, aerrors.WatchSetupFailed(profile, projectPath, fmt.Errorf("project path is not a directory"))
	}

	matcher, err := ignore.NewMatcher(projectPath, patterns)
	if err != nil {
		return nil, aerrors.WatchSetupFailed(profile, projectPath, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, aerrors.WatchSetupFailed(profile, projectPath, err)
	}

	d := &changeDetector{
		profile:  profile,
		root:     matcher.Root(),
		matcher:  matcher,
		debounce: debounce,
		bus:      bus,
		fsw:      fsw,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := d.watchTree(d.root); err != nil {
		if cerr := fsw.Close(); cerr != nil {
			slog.Warn("Failed to close watcher after setup failure", logfields.Profile(profile), logfields.Error(cerr))
		}
		return nil, aerrors.WatchSetupFailed(profile, projectPath, err)
	}

	return d, nil
}

// watchTree registers root and every non-ignored descendant directory. A
// registration failure aborts the whole walk; partial watches would silently
// miss changes.
func (d *changeDetector) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Raced against a concurrent delete; the subtree is gone anyway.
			slog.Debug("Skipping unreadable path during watch setup",
				logfields.Profile(d.profile),
				logfields.Path(path),
				logfields.Error(err))
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && d.matcher.Ignored(path, true) {
			return fs.SkipDir
		}
		return d.fsw.Add(path)
	})
}

// start launches the event loop.
func (d *changeDetector) start(ctx context.Context) {
	go d.run(ctx)
}

func (d *changeDetector) run(ctx context.Context) {
	defer close(d.done)
	defer func() {
		if err := d.fsw.Close(); err != nil {
			slog.Warn("Failed to close filesystem watcher", logfields.Profile(d.profile), logfields.Error(err))
		}
	}()

	slog.Debug("Change detector started", logfields.Profile(d.profile), logfields.Path(d.root))

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case evt, ok := <-d.fsw.Events:
			if !ok {
				return
			}
			d.handleEvent(ctx, evt)
		case err, ok := <-d.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Filesystem watch error", logfields.Profile(d.profile), logfields.Error(err))
		}
	}
}

func (d *changeDetector) handleEvent(ctx context.Context, evt fsnotify.Event) {
	// Permission-only churn never changes build inputs.
	if evt.Op&^fsnotify.Chmod == 0 {
		return
	}

	info, statErr := os.Stat(evt.Name)
	if statErr == nil && info.IsDir() {
		// Directory events do not trigger builds, but a new directory must
		// join the watch before files land in it.
		if evt.Has(fsnotify.Create) && !d.matcher.Ignored(evt.Name, true) {
			if err := d.watchTree(evt.Name); err != nil {
				slog.Warn("Failed to watch created directory",
					logfields.Profile(d.profile),
					logfields.Path(evt.Name),
					logfields.Error(err))
			}
		}
		return
	}

	if d.matcher.Ignored(evt.Name, false) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.eventCount++
	d.lastPath = evt.Name
	if d.timer == nil {
		d.timer = time.AfterFunc(d.debounce, func() { d.fire(ctx) })
	} else {
		d.timer.Reset(d.debounce)
	}
}

// fire publishes the accumulated trigger once the debounce window closes. It
// holds d.mu across the publish so stop, which takes the same lock, cannot
// complete while a delivery is in flight.
func (d *changeDetector) fire(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.eventCount == 0 {
		return
	}

	evt := events.RebuildRequested{
		Profile:     d.profile,
		Reason:      "file_change",
		LastPath:    d.lastPath,
		EventCount:  d.eventCount,
		RequestedAt: time.Now().UTC(),
	}
	d.eventCount = 0
	d.lastPath = ""
	d.timer = nil

	if err := d.bus.Publish(ctx, evt); err != nil {
		slog.Debug("Rebuild trigger dropped", logfields.Profile(d.profile), logfields.Error(err))
		return
	}
	slog.Debug("Rebuild requested",
		logfields.Profile(d.profile),
		logfields.Path(evt.LastPath),
		slog.Int("event_count", evt.EventCount))
}

// stop tears the detector down and joins the event loop. After stop returns
// no further event will be published for this profile.
func (d *changeDetector) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stopChan) })
	<-d.done
	slog.Debug("Change detector stopped", logfields.Profile(d.profile))
}
