package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	started := time.Now().UTC().Truncate(time.Second)
	ended := started.Add(3 * time.Second)
	profiles := map[string]*BuildProfile{
		"web-frontend": {
			Name:             "web-frontend",
			ProjectPath:      "/srv/web-frontend",
			BuildCommand:     "make build",
			Environment:      map[string]string{"CI": "1"},
			TimeoutSeconds:   300,
			AutobuildEnabled: true,
			IgnorePatterns:   MergeIgnorePatterns(ReservedIgnorePatterns("logs"), []string{"build/"}),
			Status:           StatusSucceeded,
			LastRun: &RunRecord{
				RunID:     "7e6c7f58",
				PID:       4242,
				StartTime: started,
				EndTime:   &ended,
				LogFile:   "/data/logs/web-frontend-7e6c7f58.log",
			},
			CreatedAt: started,
			UpdatedAt: ended,
		},
	}

	require.NoError(t, store.Save(profiles))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded["web-frontend"]
	require.NotNil(t, got)
	require.Equal(t, "make build", got.BuildCommand)
	require.Equal(t, StatusSucceeded, got.Status)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.LastRun.EndTime, "end time must survive a round trip")
	require.Equal(t, 4242, got.LastRun.PID)
	require.Contains(t, got.IgnorePatterns, StateFileName)
}

func TestStoreMissingFileYieldsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	profiles, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, profiles)
}

func TestStoreCorruptFileResetsToEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	profiles, err := store.Load()
	require.NoError(t, err, "corruption is recovered, not fatal")
	require.Empty(t, profiles)
}

func TestStoreSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(map[string]*BuildProfile{"p": {Name: "p", Status: StatusConfigured}}))

	// No temporary file is left behind after a successful save.
	_, err = os.Stat(store.Path() + ".tmp")
	require.True(t, os.IsNotExist(err))

	// The document on disk is the plain name->profile mapping.
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "p")
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to ProfileStatus }{
		{StatusConfigured, StatusQueued},
		{StatusSucceeded, StatusQueued},
		{StatusFailed, StatusQueued},
		{StatusStopped, StatusQueued},
		{StatusUnknown, StatusQueued},
		{StatusQueued, StatusRunning},
		{StatusQueued, StatusFailed},
		{StatusRunning, StatusSucceeded},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusStopped},
		{StatusRunning, StatusUnknown},
		{StatusFailed, StatusConfigured},
	}
	for _, tr := range legal {
		require.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	illegal := []struct{ from, to ProfileStatus }{
		{StatusQueued, StatusQueued},
		{StatusRunning, StatusQueued},
		{StatusRunning, StatusRunning},
		{StatusConfigured, StatusRunning},
		{StatusConfigured, StatusSucceeded},
		{StatusSucceeded, StatusUnknown},
		{StatusRunning, StatusConfigured},
		{StatusQueued, StatusConfigured},
	}
	for _, tr := range illegal {
		require.False(t, CanTransition(tr.from, tr.to), "%s -> %s should be rejected", tr.from, tr.to)
	}
}

func TestIsSettled(t *testing.T) {
	require.True(t, StatusConfigured.IsSettled())
	require.True(t, StatusSucceeded.IsSettled())
	require.True(t, StatusFailed.IsSettled())
	require.True(t, StatusStopped.IsSettled())
	require.True(t, StatusUnknown.IsSettled())
	require.False(t, StatusQueued.IsSettled())
	require.False(t, StatusRunning.IsSettled())
}

func TestMergeIgnorePatterns(t *testing.T) {
	reserved := ReservedIgnorePatterns("logs")

	t.Run("reserved always present", func(t *testing.T) {
		merged := MergeIgnorePatterns(reserved, nil)
		require.Contains(t, merged, StateFileName)
		require.Contains(t, merged, ".git/")
		require.Contains(t, merged, "logs/")
	})

	t.Run("caller patterns appended after reserved", func(t *testing.T) {
		merged := MergeIgnorePatterns(reserved, []string{"build/", "*.tmp"})
		require.Equal(t, append(append([]string{}, reserved...), "build/", "*.tmp"), merged)
	})

	t.Run("idempotent union", func(t *testing.T) {
		once := MergeIgnorePatterns(reserved, []string{"build/", ".git/"})
		twice := MergeIgnorePatterns(reserved, once)
		require.Equal(t, once, twice)
	})

	t.Run("empty strings dropped", func(t *testing.T) {
		merged := MergeIgnorePatterns(reserved, []string{"", "dist/"})
		require.NotContains(t, merged, "")
		require.Contains(t, merged, "dist/")
	})
}
