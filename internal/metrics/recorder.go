package metrics

import "time"

// Recorder defines the engine's observability hooks. Implementations must be
// safe for concurrent use; the worker, monitor, and watcher manager all record
// from their own loops.
type Recorder interface {
	// IncBuildOutcome counts a settled run by final status
	// (succeeded|failed|stopped|unknown).
	IncBuildOutcome(outcome string)
	// ObserveBuildDuration records the wall-clock duration of a settled run.
	ObserveBuildDuration(d time.Duration)
	// IncRebuildTrigger counts debounced watch triggers that reached the engine.
	IncRebuildTrigger()
	// IncSpawnFailure counts builds that never produced a process.
	IncSpawnFailure()
	SetQueueDepth(n int)
	SetRunningBuilds(n int)
	SetWatchedProfiles(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) IncBuildOutcome(string)             {}
func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) IncRebuildTrigger()                 {}
func (NoopRecorder) IncSpawnFailure()                   {}
func (NoopRecorder) SetQueueDepth(int)                  {}
func (NoopRecorder) SetRunningBuilds(int)               {}
func (NoopRecorder) SetWatchedProfiles(int)             {}
