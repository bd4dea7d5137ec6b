// Package buildlog owns the per-run log files: allocation, capture targets
// for spawned processes, and bounded tail reads for status queries.
package buildlog

import (
	"os"
	"path/filepath"
	"strings"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
)

// Manager allocates and reads run log files inside a dedicated directory.
// Files are named by run identifier so concurrent builds never collide and a
// profile's history stays greppable after the profile is reconfigured.
type Manager struct {
	dir string
}

// NewManager creates the log directory if needed and returns a manager bound
// to it.
func NewManager(logDir string) (*Manager, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, aerrors.Wrap(err, aerrors.CategoryStorage, aerrors.SeverityFatal, "failed to create log directory").
			WithContext("log_dir", logDir)
	}
	return &Manager{dir: logDir}, nil
}

// Dir returns the absolute log directory.
func (m *Manager) Dir() string { return m.dir }

// RunLogPath returns the log file location for a run identifier.
func (m *Manager) RunLogPath(runID string) string {
	return filepath.Join(m.dir, runID+".log")
}

// Create opens a fresh log file for a run, truncating any leftover from a
// colliding identifier. The caller owns the handle and must close it once the
// process has exited.
func (m *Manager) Create(runID string) (*os.File, error) {
	f, err := os.OpenFile(m.RunLogPath(runID), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, aerrors.Wrap(err, aerrors.CategoryStorage, aerrors.SeverityError, "failed to create run log file").
			WithContext("path", m.RunLogPath(runID))
	}
	return f, nil
}

// Read returns the log content at path. tailLines > 0 bounds the result to
// the last N lines; 0 or negative returns everything.
func (m *Manager) Read(path string, tailLines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", aerrors.Wrap(err, aerrors.CategoryStorage, aerrors.SeverityWarning, "failed to read run log file").
			WithContext("path", path)
	}
	if tailLines <= 0 {
		return string(data), nil
	}
	return Tail(string(data), tailLines), nil
}

// Tail returns the last n lines of content. A trailing newline does not count
// as an extra empty line.
func Tail(content string, n int) string {
	if n <= 0 || content == "" {
		return content
	}
	trimmed := strings.TrimSuffix(content, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= n {
		return content
	}
	tail := strings.Join(lines[len(lines)-n:], "\n")
	if strings.HasSuffix(content, "\n") {
		tail += "\n"
	}
	return tail
}
