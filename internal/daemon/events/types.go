package events

import "time"

// RebuildRequested is published by a change detector once its debounce window
// closes with no further qualifying events. The engine's trigger consumer
// re-checks the profile before acting, so a stale request is harmless.
type RebuildRequested struct {
	Profile     string
	Reason      string
	LastPath    string
	EventCount  int
	RequestedAt time.Time
}

// RunFinished is published after the status monitor settles a run. History
// recording and external notification hang off this event.
type RunFinished struct {
	Profile    string
	RunID      string
	PID        int
	Status     string
	ExitCode   int
	Note       string
	LogFile    string
	StartedAt  time.Time
	FinishedAt time.Time
}
