package text_test

import (
	"testing"

	"github.com/book-expert/paperread-tts/internal/tts/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "plain", input: "Hello world.", expected: "Hello world."},
		{name: "whitespace", input: "  Hello \n\n\t world  ", expected: "Hello world"},
		{name: "smart quotes", input: "“Hi,” she said, ‘twice’", expected: `"Hi," she said, 'twice'`},
		{name: "em dash", input: "wait—what", expected: "wait, what"},
		{name: "en dash", input: "pages 3–5", expected: "pages 3-5"},
		{name: "ellipsis", input: "and then…", expected: "and then..."},
		{name: "soft hyphen", input: "extra\u00adordinary", expected: "extraordinary"},
		{name: "hyphenated line break", input: "extra-\nordinary", expected: "extraordinary"},
		{name: "abbreviations", input: "Mr. Smith met Dr. Jones.", expected: "Mister Smith met Doctor Jones."},
		{name: "mrs", input: "Mrs. Dalloway", expected: "Misses Dalloway"},
		{name: "mid-word untouched", input: "Meet at HotSt. later", expected: "Meet at HotSt. later"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}
