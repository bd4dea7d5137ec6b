package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
)

// StateFileName is the profile document inside the data directory. It is
// also a reserved ignore pattern so saves never re-trigger builds.
const StateFileName = "profiles.json"

// Store persists all profiles as a single JSON document. Every logical
// operation is a full load, mutate, full save; callers serialize operations
// themselves (the engine runs them under one mutex).
type Store struct {
	statePath string
}

// NewStore creates the data directory if needed and returns a store bound to
// the profile document inside it.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, aerrors.Wrap(err, aerrors.CategoryStorage, aerrors.SeverityFatal, "failed to create data directory").
			WithContext("data_dir", dataDir)
	}
	return &Store{statePath: filepath.Join(dataDir, StateFileName)}, nil
}

// Path returns the absolute location of the profile document.
func (s *Store) Path() string { return s.statePath }

// Load reads the full profile document. A missing document yields an empty
// map. A corrupt document is reset to empty with a warning; corruption is
// never fatal.
func (s *Store) Load() (map[string]*BuildProfile, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*BuildProfile{}, nil
		}
		return nil, aerrors.Wrap(err, aerrors.CategoryStorage, aerrors.SeverityError, "failed to read profile store").
			WithContext("path", s.statePath)
	}

	profiles := map[string]*BuildProfile{}
	if err := json.Unmarshal(data, &profiles); err != nil {
		corrupt := aerrors.StoreCorrupted(s.statePath, err)
		slog.Warn("Profile store corrupt, starting from empty state",
			logfields.Path(s.statePath),
			logfields.Error(corrupt))
		return map[string]*BuildProfile{}, nil
	}

	return profiles, nil
}

// Save writes the full profile document atomically: marshal to a temporary
// file, then rename over the real document so a crash mid-write never leaves
// a partial file.
func (s *Store) Save(profiles map[string]*BuildProfile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return aerrors.StoreSaveFailed(s.statePath, err)
	}

	tempPath := s.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return aerrors.StoreSaveFailed(s.statePath, err)
	}

	if err := os.Rename(tempPath, s.statePath); err != nil {
		return aerrors.StoreSaveFailed(s.statePath, err)
	}

	return nil
}
