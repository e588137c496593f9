package audiocache_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidFilename(t *testing.T) {
	t.Parallel()

	accepted := []string{
		"0123456789ab-en_US.wav",
		"ABCDEF012345-voice.wav",
		"aBcDeF012345-x.wav",
		"aaaaaaaaaaaa-a-b_c.wav",
	}
	for _, name := range accepted {
		assert.True(t, audiocache.ValidFilename(name), name)
	}

	rejected := []string{
		"",
		"0123456789ab.wav",
		"0123456789a-en.wav",
		"0123456789abc-en.wav",
		"0123456789ag-en.wav",
		"0123456789ab-.wav",
		"0123456789ab-en.WAV",
		"0123456789ab-en.wav.bak",
		"x0123456789ab-en.wav",
		"0123456789ab-en/../x.wav",
		"../0123456789ab-en.wav",
		"/tmp/0123456789ab-en.wav",
		"0123456789ab-en.wav\n",
		"0123456789ab-e n.wav",
		"0123456789ab-en.mp3",
	}
	for _, name := range rejected {
		assert.False(t, audiocache.ValidFilename(name), name)
	}
}

func TestResolveCachePath_InsideRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	path, err := audiocache.ResolveCachePath(root, "0123456789ab-en_US.wav")
	require.NoError(t, err)

	canonicalRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(canonicalRoot, "0123456789ab-en_US.wav"), path)
	assert.True(t, strings.HasPrefix(path, canonicalRoot+string(filepath.Separator)))
}

func TestResolveCachePath_DoesNotRequireExistence(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "not", "created")

	path, err := audiocache.ResolveCachePath(root, "0123456789ab-en.wav")
	require.NoError(t, err)
	assert.Equal(t, "0123456789ab-en.wav", filepath.Base(path))

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr), "resolution must not create anything")
}

func TestResolveCachePath_RejectsMalformed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	for _, name := range []string{"../../etc/passwd", "/etc/passwd", "abc.wav", "..", ""} {
		_, err := audiocache.ResolveCachePath(root, name)
		require.ErrorIs(t, err, audiocache.ErrInvalidFilename, name)
	}
}

func TestResolveCachePath_SymlinkEscape(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.wav")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))

	link := filepath.Join(root, "aaaaaaaaaaaa-link.wav")
	require.NoError(t, os.Symlink(outside, link))

	_, err := audiocache.ResolveCachePath(root, "aaaaaaaaaaaa-link.wav")
	require.ErrorIs(t, err, audiocache.ErrPathEscapesRoot)
}

func TestResolveCachePath_SymlinkedRoot(t *testing.T) {
	t.Parallel()

	realRoot := t.TempDir()
	linkRoot := filepath.Join(t.TempDir(), "media")
	require.NoError(t, os.Symlink(realRoot, linkRoot))

	path, err := audiocache.ResolveCachePath(linkRoot, "0123456789ab-en.wav")
	require.NoError(t, err)

	canonicalRoot, err := filepath.EvalSymlinks(realRoot)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canonicalRoot, "0123456789ab-en.wav"), path)
}
