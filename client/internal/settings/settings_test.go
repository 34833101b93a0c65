package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.AutomaticUpdates())
	assert.False(t, store.AutomaticUpdatesChosen(), "no file means no choice was made")
}

func TestSetAutomaticUpdatesPersists(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.SetAutomaticUpdates(true))
	assert.True(t, store.AutomaticUpdates())
	assert.True(t, store.AutomaticUpdatesChosen())

	// the value survives a reload from disk
	reloaded, err := NewStore(dir)
	require.NoError(t, err)
	assert.True(t, reloaded.AutomaticUpdates())
	assert.True(t, reloaded.AutomaticUpdatesChosen())

	require.NoError(t, store.SetAutomaticUpdates(false))
	reloaded, err = NewStore(dir)
	require.NoError(t, err)
	assert.False(t, reloaded.AutomaticUpdates())
	assert.True(t, reloaded.AutomaticUpdatesChosen(), "an explicit false is still a choice")
}

func TestExplicitFalseDiffersFromDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("automatic-updates: false\n"), 0o600))

	store, err := NewStore(dir)
	require.NoError(t, err)

	assert.False(t, store.AutomaticUpdates())
	assert.True(t, store.AutomaticUpdatesChosen())
}

func TestMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("{not yaml"), 0o600))

	_, err := NewStore(dir)
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "settings.yaml"), store.Path())
}
