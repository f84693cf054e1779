package authfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile(t *testing.T) *File {
	t.Helper()
	f, err := New(filepath.Join(t.TempDir(), ".codex", "auth.json"))
	require.NoError(t, err)
	return f
}

func TestReadMissingFile(t *testing.T) {
	f := testFile(t)

	assert.False(t, f.Exists())
	_, err := f.Read()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestReadInvalidContent(t *testing.T) {
	f := testFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path()), 0700))
	require.NoError(t, os.WriteFile(f.Path(), []byte("not json"), 0600))

	_, err := f.Read()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotLoggedIn)
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := testFile(t)

	blob := map[string]any{
		"tokens": map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"account_id":    "acct-1",
		},
		"last_refresh": "2026-01-02T03:04:05Z",
	}
	require.NoError(t, f.Write(blob))
	assert.True(t, f.Exists())

	got, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestWriteIsAtomicAndPrivate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	f := testFile(t)
	require.NoError(t, f.Write(map[string]any{"a": "1"}))
	require.NoError(t, f.Write(map[string]any{"a": "2"}))

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}
