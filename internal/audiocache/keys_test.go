package audiocache_test

import (
	"regexp"
	"testing"

	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexKey = regexp.MustCompile(`^[a-f0-9]{12}$`)

func ptr(value float64) *float64 {
	return &value
}

func TestBuildCacheKey_Deterministic(t *testing.T) {
	t.Parallel()

	first := audiocache.BuildCacheKey("en_US", "1.25", "", "Hello world")
	second := audiocache.BuildCacheKey("en_US", "1.25", "", "Hello world")

	assert.Equal(t, first, second)
	assert.Regexp(t, hexKey, first)
}

func TestBuildCacheKey_KnownDigest(t *testing.T) {
	t.Parallel()

	// Parts are joined with "|" before hashing.
	assert.Equal(t, audiocache.BuildCacheKey("a|b"), audiocache.BuildCacheKey("a", "b"))
	assert.NotEqual(t, audiocache.BuildCacheKey("a", "b"), audiocache.BuildCacheKey("ab"))
}

func TestKeyInputs_Parts(t *testing.T) {
	t.Parallel()

	inputs := audiocache.KeyInputs{VoiceID: "en_US", Rate: ptr(1.5), Pitch: nil, Text: "hi"}
	assert.Equal(t, []string{"en_US", "1.5", "", "hi"}, inputs.Parts())

	whole := audiocache.KeyInputs{VoiceID: "en_US", Rate: ptr(2), Pitch: ptr(-0.25), Text: "hi"}
	assert.Equal(t, []string{"en_US", "2", "-0.25", "hi"}, whole.Parts())
}

func TestKeyInputs_RateChangesKey(t *testing.T) {
	t.Parallel()

	plain := audiocache.KeyInputs{VoiceID: "en_US", Text: "hi"}
	faster := audiocache.KeyInputs{VoiceID: "en_US", Rate: ptr(1.2), Text: "hi"}

	assert.NotEqual(t, plain.Key(), faster.Key())
	assert.Equal(t, plain.Key(), audiocache.KeyInputs{VoiceID: "en_US", Text: "hi"}.Key())
}

func TestKeyInputs_FilenameIsValid(t *testing.T) {
	t.Parallel()

	inputs := audiocache.KeyInputs{VoiceID: "zh CN/女声", Text: "你好"}
	filename := inputs.Filename()

	assert.True(t, audiocache.ValidFilename(filename), filename)
	assert.Equal(t, inputs.Key()+"-zh-CN.wav", filename)
}

func TestSanitizeVoiceID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"en_US":         "en_US",
		"en US":         "en-US",
		"../etc/passwd": "etc-passwd",
		"--edge--":      "edge",
		"":              "voice",
		"///":           "voice",
		"voice.onnx":    "voice-onnx",
		"Ünïcode":       "n-code",
	}

	for input, expected := range cases {
		assert.Equal(t, expected, audiocache.SanitizeVoiceID(input), "input %q", input)
	}
}

func TestSanitizeVoiceID_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "-", "a b c", "..", "x/y\\z", "__ok__", "  spaced  ", "日本語", "a--b"}

	for _, input := range inputs {
		once := audiocache.SanitizeVoiceID(input)
		require.Equal(t, once, audiocache.SanitizeVoiceID(once), "input %q", input)
	}
}

func TestCacheFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0123456789ab-en_US.wav", audiocache.CacheFilename("0123456789ab", "en_US"))
	assert.Equal(t, "0123456789ab-voice.wav", audiocache.CacheFilename("0123456789ab", "!!!"))
}
