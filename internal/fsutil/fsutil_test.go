package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/paperread-tts/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEnsureDir verifies that a directory is created if it doesn't exist.
func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, fsutil.EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, fsutil.EnsureDir(testPath), "existing directory is fine")
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")

	require.NoError(t, fsutil.WriteFileAtomic(target, []byte("first")))
	require.NoError(t, fsutil.WriteFileAtomic(target, []byte("second")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "missing", "doc.json")

	require.Error(t, fsutil.WriteFileAtomic(target, []byte("x")))
}

func TestExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o600))

	found, err := fsutil.Exists(present)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = fsutil.Exists(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDirSizeAndGlobSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.wav"), make([]byte, 10), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), make([]byte, 5), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "c.wav"), make([]byte, 7), 0o600))

	total, err := fsutil.DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(22), total)

	wavs, err := fsutil.GlobSize(dir, "*.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wavs, "glob does not descend into subdirectories")

	missing, err := fsutil.DirSize(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Zero(t, missing)
}
