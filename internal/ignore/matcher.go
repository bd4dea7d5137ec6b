// Package ignore classifies filesystem paths against gitignore-style
// patterns to decide whether a change event is build-relevant.
package ignore

import (
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Matcher evaluates one profile's ignore patterns against absolute paths.
// Matching follows .gitignore semantics: later patterns re-include earlier
// exclusions, trailing-slash patterns match directories only, and patterns
// anchor the way .gitignore anchors them.
type Matcher struct {
	root    string
	matcher gitignore.Matcher
}

// NewMatcher builds a matcher rooted at projectPath. The root is resolved to
// its canonical form once so later containment checks are symlink-safe.
func NewMatcher(projectPath string, patterns []string) (*Matcher, error) {
	root, err := canonicalize(projectPath)
	if err != nil {
		return nil, err
	}

	ps := make([]gitignore.Pattern, 0, len(patterns))
	for _, p := range patterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(trimmed, nil))
	}

	return &Matcher{root: root, matcher: gitignore.NewMatcher(ps)}, nil
}

// Root returns the canonical project root the matcher is bound to.
func (m *Matcher) Root() string { return m.root }

// Ignored classifies an absolute path. Fail closed: a path that cannot be
// resolved, or that falls outside the project root after resolution, is
// reported as ignored so watcher errors never cause rebuild storms.
func (m *Matcher) Ignored(absPath string, isDir bool) bool {
	canon, err := canonicalize(absPath)
	if err != nil {
		return true
	}

	rel, err := filepath.Rel(m.root, canon)
	if err != nil {
		return true
	}
	if rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	return m.matcher.Match(parts, isDir)
}

// canonicalize resolves symlinks where the path exists. Paths that no longer
// exist (delete events) resolve through their deepest existing ancestor, with
// the missing remainder rejoined lexically.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return resolveExisting(filepath.Clean(abs)), nil
}

func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	dir := filepath.Dir(abs)
	if dir == abs {
		return abs
	}
	return filepath.Join(resolveExisting(dir), filepath.Base(abs))
}
