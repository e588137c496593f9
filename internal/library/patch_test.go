package library_test

import (
	"testing"

	"github.com/book-expert/paperread-tts/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatch_Fields(t *testing.T) {
	t.Parallel()

	patch, err := library.ParsePatch([]byte(`{"title":"New","cover":null}`))
	require.NoError(t, err)
	require.NotNil(t, patch.Title)
	assert.Equal(t, "New", *patch.Title)
	assert.Nil(t, patch.Author)
	assert.True(t, patch.SetCover)
	assert.Nil(t, patch.Cover)
	assert.False(t, patch.SetLastRead)
}

func TestParsePatch_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "unknown fields", body: `{"title":"x","zeta":1,"alpha":2}`, want: library.ErrUnsupportedFields},
		{name: "not an object", body: `[1,2]`, want: library.ErrInvalidPatch},
		{name: "null body", body: `null`, want: library.ErrInvalidPatch},
		{name: "title type", body: `{"title":5}`, want: library.ErrInvalidPatch},
		{name: "location type", body: `{"last_read_location":"p3"}`, want: library.ErrInvalidLastRead},
		{name: "negative para", body: `{"last_read_location":{"para":-1,"chars":0}}`, want: library.ErrInvalidLastRead},
		{name: "fractional chars", body: `{"last_read_location":{"para":1,"chars":1.5}}`, want: library.ErrInvalidLastRead},
		{name: "missing chars", body: `{"last_read_location":{"para":1}}`, want: library.ErrInvalidLastRead},
		{name: "string para", body: `{"last_read_location":{"para":"1","chars":0}}`, want: library.ErrInvalidLastRead},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := library.ParsePatch([]byte(testCase.body))
			require.ErrorIs(t, err, testCase.want)
		})
	}
}

func TestParsePatch_UnknownFieldsAreListedSorted(t *testing.T) {
	t.Parallel()

	_, err := library.ParsePatch([]byte(`{"zeta":1,"alpha":2}`))
	require.EqualError(t, err, "unsupported fields: alpha, zeta")
}
