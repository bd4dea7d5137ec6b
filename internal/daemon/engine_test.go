package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/autobuild/internal/buildlog"
	"git.home.luguber.info/inful/autobuild/internal/config"
	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/state"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngineWithBus(t, nil)
}

func newTestEngineWithBus(t *testing.T, bus *events.Bus) *Engine {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.LogDir = filepath.Join(dataDir, "logs")
	cfg.Engine.MaxConcurrentBuilds = 2
	cfg.Engine.WorkerInterval = "20ms"
	cfg.Engine.MonitorInterval = "20ms"
	cfg.Engine.ReconcileInterval = "50ms"
	cfg.Engine.DebounceWindow = "60ms"
	cfg.Engine.StopGracePeriod = "500ms"
	cfg.Engine.DefaultTimeoutSeconds = 0

	store, err := state.NewStore(dataDir)
	require.NoError(t, err)
	logs, err := buildlog.NewManager(cfg.LogDir)
	require.NoError(t, err)

	e, err := NewEngine(Options{Config: cfg, Store: store, Logs: logs, Bus: bus})
	require.NoError(t, err)
	return e
}

func configureProfile(t *testing.T, e *Engine, name, command string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, e.ConfigureProfile(ProfileSpec{
		Name:         name,
		ProjectPath:  dir,
		BuildCommand: command,
	}))
	return dir
}

// persistedStatus reads the stored status, bypassing GetStatus's transient
// unknown reporting.
func persistedStatus(t *testing.T, e *Engine, name string) state.ProfileStatus {
	t.Helper()
	statuses, err := e.ListProfiles()
	require.NoError(t, err)
	return statuses[name]
}

// waitSettled drives the worker and monitor kernels directly until the
// profile leaves the queued/running states.
func waitSettled(t *testing.T, e *Engine, name string, timeout time.Duration) state.ProfileStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e.workerPump()
		e.monitorSweep()
		if st := persistedStatus(t, e, name); st.IsSettled() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("profile %s did not settle within %s", name, timeout)
	return ""
}

func TestEngine_SingleBuildSucceeds(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	pos, err := e.StartBuild("p1")
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	require.Equal(t, state.StatusSucceeded, waitSettled(t, e, "p1", 3*time.Second))

	st, err := e.GetStatus("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusSucceeded, st.Status)
	require.NotNil(t, st.LastRun)
	require.NotEmpty(t, st.LastRun.RunID)
	require.Greater(t, st.LastRun.PID, 0)
	require.NotNil(t, st.LastRun.EndTime)

	logRes, err := e.GetLog("p1", 0)
	require.NoError(t, err)
	require.Equal(t, st.LastRun.RunID, logRes.RunID)
}

func TestEngine_FailingBuildSettlesFailed(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p2", "false")

	_, err := e.StartBuild("p2")
	require.NoError(t, err)

	require.Equal(t, state.StatusFailed, waitSettled(t, e, "p2", 3*time.Second))

	st, err := e.GetStatus("p2")
	require.NoError(t, err)
	require.Contains(t, st.Note, "exit code 1")
}

func TestEngine_BuildOutputLandsInLog(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "echo out-line; echo err-line >&2")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusSucceeded, waitSettled(t, e, "p1", 3*time.Second))

	logRes, err := e.GetLog("p1", 0)
	require.NoError(t, err)
	require.Contains(t, logRes.Log, "out-line")
	require.Contains(t, logRes.Log, "err-line")
}

func TestEngine_SecondStartRejected(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)

	_, err = e.StartBuild("p1")
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryState))
	require.Equal(t, 1, e.Snapshot().QueueDepth)
}

func TestEngine_ConcurrencyBounded(t *testing.T) {
	e := newTestEngine(t)
	for _, name := range []string{"p1", "p2", "p3"} {
		configureProfile(t, e, name, "sleep 0.3")
		_, err := e.StartBuild(name)
		require.NoError(t, err)
	}

	e.workerPump()
	snap := e.Snapshot()
	require.Equal(t, 2, snap.RunningBuilds)
	require.Equal(t, 1, snap.QueueDepth)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e.workerPump()
		e.monitorSweep()
		require.LessOrEqual(t, e.Snapshot().RunningBuilds, 2)

		settled := 0
		for _, name := range []string{"p1", "p2", "p3"} {
			if persistedStatus(t, e, name) == state.StatusSucceeded {
				settled++
			}
		}
		if settled == 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("not all builds settled")
}

func TestEngine_TimeoutTerminatesBuild(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	timeout := 1
	require.NoError(t, e.ConfigureProfile(ProfileSpec{
		Name:           "slow",
		ProjectPath:    dir,
		BuildCommand:   "sleep 30",
		TimeoutSeconds: &timeout,
	}))

	_, err := e.StartBuild("slow")
	require.NoError(t, err)

	require.Equal(t, state.StatusFailed, waitSettled(t, e, "slow", 8*time.Second))

	st, err := e.GetStatus("slow")
	require.NoError(t, err)
	require.Contains(t, st.Note, "timeout")
}

func TestEngine_StopBuildTerminatesTree(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "sleep 30")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	e.workerPump()
	require.Equal(t, 1, e.Snapshot().RunningBuilds)

	res, err := e.StopBuild("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusStopped, res.Status)
	require.Equal(t, "stopped by user", res.Note)
	require.Equal(t, 0, e.Snapshot().RunningBuilds)

	st, err := e.GetStatus("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusStopped, st.Status)
	require.NotNil(t, st.LastRun.EndTime)
}

func TestEngine_StopCorrectsAlreadyExited(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	e.workerPump()

	// Let the process exit without the monitor noticing.
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		h := e.running["p1"]
		return h != nil && h.finished()
	}, 2*time.Second, 10*time.Millisecond)

	res, err := e.StopBuild("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusStopped, res.Status)
	require.Contains(t, res.Note, "already exited")
	require.Equal(t, state.StatusStopped, persistedStatus(t, e, "p1"))
}

func TestEngine_StatusReportsTransientUnknownWithoutPersisting(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	e.workerPump()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		h := e.running["p1"]
		return h != nil && h.finished()
	}, 2*time.Second, 10*time.Millisecond)

	st, err := e.GetStatus("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusUnknown, st.Status)
	require.Contains(t, st.Note, "awaiting monitor reconciliation")

	// The query must not have settled anything: the store still says running.
	require.Equal(t, state.StatusRunning, persistedStatus(t, e, "p1"))

	e.monitorSweep()
	require.Equal(t, state.StatusSucceeded, persistedStatus(t, e, "p1"))
}

func TestEngine_RebuildOnCompletionRequeues(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "sleep 0.3")
	require.NoError(t, e.ToggleAutobuild("p1", true))

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	e.workerPump()
	require.Equal(t, state.StatusRunning, persistedStatus(t, e, "p1"))

	// A change lands while the build is in flight.
	e.handleRebuildRequested(context.Background(), events.RebuildRequested{
		Profile: "p1",
		Reason:  "file_change",
	})
	profiles, err := e.store.Load()
	require.NoError(t, err)
	require.True(t, profiles["p1"].RebuildOnCompletion)

	// The first run settles straight back into the queue.
	require.Eventually(t, func() bool {
		e.monitorSweep()
		return persistedStatus(t, e, "p1") == state.StatusQueued
	}, 3*time.Second, 20*time.Millisecond)

	profiles, err = e.store.Load()
	require.NoError(t, err)
	require.False(t, profiles["p1"].RebuildOnCompletion)

	require.Equal(t, state.StatusSucceeded, waitSettled(t, e, "p1", 3*time.Second))
}

func TestEngine_ConfigureValidation(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	negative := -1

	cases := []struct {
		name string
		spec ProfileSpec
	}{
		{"empty name", ProfileSpec{ProjectPath: dir, BuildCommand: "true"}},
		{"empty path", ProfileSpec{Name: "p", BuildCommand: "true"}},
		{"relative path", ProfileSpec{Name: "p", ProjectPath: "some/where", BuildCommand: "true"}},
		{"empty command", ProfileSpec{Name: "p", ProjectPath: dir}},
		{"negative timeout", ProfileSpec{Name: "p", ProjectPath: dir, BuildCommand: "true", TimeoutSeconds: &negative}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.ConfigureProfile(tc.spec)
			require.Error(t, err)
			require.True(t, aerrors.IsCategory(err, aerrors.CategoryValidation))
		})
	}
}

func TestEngine_ConfigureRejectedWhileInFlight(t *testing.T) {
	e := newTestEngine(t)
	dir := configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)

	err = e.ConfigureProfile(ProfileSpec{Name: "p1", ProjectPath: dir, BuildCommand: "false"})
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryState))
}

func TestEngine_ConfigureMergesReservedIgnorePatterns(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, e.ConfigureProfile(ProfileSpec{
		Name:           "p1",
		ProjectPath:    dir,
		BuildCommand:   "true",
		IgnorePatterns: []string{"node_modules/", ".git/"},
	}))

	profiles, err := e.store.Load()
	require.NoError(t, err)
	got := profiles["p1"].IgnorePatterns

	require.Contains(t, got, state.StateFileName)
	require.Contains(t, got, ".git/")
	require.Contains(t, got, "logs/")
	require.Contains(t, got, "node_modules/")

	// Union is deduplicated: the caller's ".git/" must not appear twice.
	seen := map[string]int{}
	for _, p := range got {
		seen[p]++
	}
	require.Equal(t, 1, seen[".git/"])
}

func TestEngine_ConfigureResetsStatusAndKeepsLastRun(t *testing.T) {
	e := newTestEngine(t)
	dir := configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusSucceeded, waitSettled(t, e, "p1", 3*time.Second))
	require.NoError(t, e.ToggleAutobuild("p1", true))

	require.NoError(t, e.ConfigureProfile(ProfileSpec{Name: "p1", ProjectPath: dir, BuildCommand: "false"}))

	profiles, err := e.store.Load()
	require.NoError(t, err)
	p := profiles["p1"]
	require.Equal(t, state.StatusConfigured, p.Status)
	require.False(t, p.AutobuildEnabled)
	require.Equal(t, "false", p.BuildCommand)
	require.NotNil(t, p.LastRun, "reconfigure keeps the previous run record")
}

func TestEngine_DeleteProfile(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	require.Equal(t, 1, e.Snapshot().QueueDepth)

	require.NoError(t, e.DeleteProfile("p1"))
	require.Equal(t, 0, e.Snapshot().QueueDepth)

	_, err = e.GetStatus("p1")
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))
}

func TestEngine_DeleteRunningProfileRejected(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "sleep 30")

	_, err := e.StartBuild("p1")
	require.NoError(t, err)
	e.workerPump()

	err = e.DeleteProfile("p1")
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryState))

	_, err = e.StopBuild("p1")
	require.NoError(t, err)
	require.NoError(t, e.DeleteProfile("p1"))
}

func TestEngine_UnknownProfileOperations(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.StartBuild("ghost")
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))

	err = e.ToggleAutobuild("ghost", true)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))

	_, err = e.StopBuild("ghost")
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))

	_, err = e.GetStatus("ghost")
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))

	err = e.DeleteProfile("ghost")
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))
}

func TestEngine_GetLogBeforeAnyRun(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	_, err := e.GetLog("p1", 0)
	require.Error(t, err)
	require.True(t, aerrors.IsCategory(err, aerrors.CategoryNotFound))
}

func TestEngine_UnknownProfileIsRestartable(t *testing.T) {
	e := newTestEngine(t)
	configureProfile(t, e, "p1", "true")

	// Force an unknown status the way orphan recovery would.
	e.mu.Lock()
	profiles, err := e.store.Load()
	require.NoError(t, err)
	profiles["p1"].Status = state.StatusUnknown
	require.NoError(t, e.store.Save(profiles))
	e.mu.Unlock()

	_, err = e.StartBuild("p1")
	require.NoError(t, err)
	require.Equal(t, state.StatusSucceeded, waitSettled(t, e, "p1", 3*time.Second))
}
