package qudicore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppDataStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewAppDataStore(t.TempDir(), nil)

	values := map[string]any{"last_position": 12.5, "calibrated": true}
	require.NoError(t, store.Save("stage", values))

	loaded, err := store.Load("stage")
	require.NoError(t, err)
	assert.Equal(t, 12.5, loaded["last_position"])
	assert.Equal(t, true, loaded["calibrated"])
}

func TestAppDataStoreLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewAppDataStore(t.TempDir(), nil)
	loaded, err := store.Load("never-activated")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestAppDataStoreSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewAppDataStore(dir, nil)
	require.NoError(t, store.Save("stage", map[string]any{"x": 1}))

	entries, err := os.ReadDir(filepath.Join(dir, "stage"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status-stage.cfg", entries[0].Name())
}

func TestAppDataStoreClearRemovesFile(t *testing.T) {
	store := NewAppDataStore(t.TempDir(), nil)
	require.NoError(t, store.Save("stage", map[string]any{"x": 1}))
	require.NoError(t, store.Clear("stage"))

	loaded, err := store.Load("stage")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestAppDataStoreClearMissingFileIsNotAnError(t *testing.T) {
	store := NewAppDataStore(t.TempDir(), nil)
	assert.NoError(t, store.Clear("never-existed"))
}
