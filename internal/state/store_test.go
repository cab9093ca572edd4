package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "state.json"))
}

func TestPatchAndGet(t *testing.T) {
	store := newTestStore(t)

	assert.False(t, store.GetBool(KeyAccessDenied), "absent key reads false")

	require.NoError(t, store.Patch(KeyAccessDenied, true))
	assert.True(t, store.GetBool(KeyAccessDenied))

	now := time.Now()
	require.NoError(t, store.Patch(KeyAccessDeniedAt, now))
	got, ok := store.GetTime(KeyAccessDeniedAt)
	require.True(t, ok)
	assert.WithinDuration(t, now, got, time.Second)
}

func TestPatchPreservesUnknownKeys(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte(`{"future_field":{"nested":42},"setup_complete":true}`), 0o600))

	require.NoError(t, store.Patch(KeyLastSeenVersion, "1.2.3"))

	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"future_field"`)
	assert.Contains(t, string(data), `"nested":42`)
	assert.True(t, store.GetBool(KeySetupComplete))
	assert.Equal(t, "1.2.3", store.GetString(KeyLastSeenVersion))
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Patch(KeyAccessDenied, true))
	require.NoError(t, store.Delete(KeyAccessDenied))
	assert.False(t, store.GetBool(KeyAccessDenied))
}

func TestCorruptDocumentResets(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.path, []byte("{not json"), 0o600))

	assert.False(t, store.GetBool(KeyAccessDenied))
	require.NoError(t, store.Patch(KeySetupComplete, true))
	assert.True(t, store.GetBool(KeySetupComplete))
}

func TestFilePermissions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Patch(KeySetupComplete, true))

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
