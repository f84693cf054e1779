package persist

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileBackendRejectsEmptyPath(t *testing.T) {
	_, err := NewFileBackend("")
	require.Error(t, err)
}

func TestFileBackendLoadMissing(t *testing.T) {
	backend, err := NewFileBackend(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)

	_, err = backend.Load()
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "accounts.json")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)

	require.NoError(t, backend.Save([]byte(`{"accounts":{}}`)))

	data, err := backend.Load()
	require.NoError(t, err)
	assert.Equal(t, `{"accounts":{}}`, string(data))

	// Overwrite replaces the whole document
	require.NoError(t, backend.Save([]byte(`{}`)))
	data, err = backend.Load()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestFileBackendPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "private", "accounts.json")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, backend.Save([]byte("secret")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestFileBackendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	require.NoError(t, backend.Save([]byte("a")))
	require.NoError(t, backend.Save([]byte("b")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "accounts.json", entries[0].Name())
}
