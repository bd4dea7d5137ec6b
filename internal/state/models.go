// Package state defines the persisted profile model and its JSON store.
package state

import (
	"slices"
	"time"
)

// ProfileStatus represents where a profile sits in its build lifecycle.
type ProfileStatus string

const (
	StatusConfigured ProfileStatus = "configured"
	StatusQueued     ProfileStatus = "queued"
	StatusRunning    ProfileStatus = "running"
	StatusSucceeded  ProfileStatus = "succeeded"
	StatusFailed     ProfileStatus = "failed"
	StatusStopped    ProfileStatus = "stopped"
	StatusUnknown    ProfileStatus = "unknown"
)

// IsSettled reports whether the profile is idle, i.e. a new build may be
// enqueued. Queued and running profiles are in flight and reject re-enqueue.
func (s ProfileStatus) IsSettled() bool {
	return s != StatusQueued && s != StatusRunning
}

// CanTransition encodes the legal status transitions. Every mutator checks
// here before writing a new status.
func CanTransition(from, to ProfileStatus) bool {
	switch to {
	case StatusConfigured:
		// Re-configure resets any settled profile.
		return from.IsSettled()
	case StatusQueued:
		return from.IsSettled()
	case StatusRunning:
		return from == StatusQueued
	case StatusSucceeded, StatusStopped:
		return from == StatusRunning
	case StatusFailed:
		// Spawn failure settles a queued profile without it ever running.
		return from == StatusRunning || from == StatusQueued
	case StatusUnknown:
		return from == StatusRunning
	default:
		return false
	}
}

// RunRecord captures one build attempt. PID is meaningful only while the
// owning profile is running.
type RunRecord struct {
	RunID     string     `json:"run_id"`
	PID       int        `json:"pid"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	LogFile   string     `json:"log_file"`
	Note      string     `json:"note,omitempty"`
}

// BuildProfile is one named project managed by the daemon.
type BuildProfile struct {
	Name                string            `json:"name"`
	ProjectPath         string            `json:"project_path"`
	BuildCommand        string            `json:"build_command"`
	Environment         map[string]string `json:"environment,omitempty"`
	TimeoutSeconds      int               `json:"timeout_seconds,omitempty"`
	AutobuildEnabled    bool              `json:"autobuild_enabled"`
	IgnorePatterns      []string          `json:"ignore_patterns"`
	Status              ProfileStatus     `json:"status"`
	RebuildOnCompletion bool              `json:"rebuild_on_completion,omitempty"`
	LastRun             *RunRecord        `json:"last_run,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// ReservedIgnorePatterns returns the patterns every profile carries so the
// daemon's own artifacts never re-trigger builds. logDirName is the base name
// of the configured log directory.
func ReservedIgnorePatterns(logDirName string) []string {
	return []string{StateFileName, ".git/", logDirName + "/"}
}

// MergeIgnorePatterns unions the reserved set with caller patterns,
// deduplicating while preserving first-occurrence order. Reserved patterns
// come first so caller patterns keep their gitignore precedence among
// themselves.
func MergeIgnorePatterns(reserved, caller []string) []string {
	merged := make([]string, 0, len(reserved)+len(caller))
	for _, p := range reserved {
		if p != "" && !slices.Contains(merged, p) {
			merged = append(merged, p)
		}
	}
	for _, p := range caller {
		if p != "" && !slices.Contains(merged, p) {
			merged = append(merged, p)
		}
	}
	return merged
}
