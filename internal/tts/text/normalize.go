// Package text prepares book text for the speech engine.
//
// Normalization only affects what the engine reads aloud. Cache keys are
// always derived from the text exactly as the client sent it.
package text

import (
	"regexp"
	"strings"
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
	softHyphen   = "\u00ad"
	zeroWidth    = "\u200b"
	nbsp         = "\u00a0"
)

// Normalizer rewrites typographic characters and abbreviations into forms
// the engine pronounces reliably.
type Normalizer struct {
	whitespacePattern   *regexp.Regexp
	hyphenBreakPattern  *regexp.Regexp
	abbreviationPattern *regexp.Regexp
	typographyReplacer  *strings.Replacer
}

// abbreviations are only expanded at the start of a word.
var abbreviations = map[string]string{
	"Mr.":   "Mister",
	"Mrs.":  "Misses",
	"Dr.":   "Doctor",
	"St.":   "Saint",
	"Prof.": "Professor",
	"e.g.":  "for example",
	"i.e.":  "that is",
	"etc.":  "et cetera",
}

// NewNormalizer creates a Normalizer with its patterns compiled once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern:   regexp.MustCompile(`\s+`),
		hyphenBreakPattern:  regexp.MustCompile(`(\pL)-\s*\n\s*(\pL)`),
		abbreviationPattern: regexp.MustCompile(`\b(?:Mrs|Mr|Dr|St|Prof|e\.g|i\.e|etc)\.`),
		typographyReplacer: strings.NewReplacer(
			emDash, ", ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			softHyphen, "",
			zeroWidth, "",
			nbsp, " ",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns text ready to be piped into the engine.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	// Words hyphenated across a line break in the source file.
	text = n.hyphenBreakPattern.ReplaceAllString(text, "$1$2")
	text = n.typographyReplacer.Replace(text)
	text = n.abbreviationPattern.ReplaceAllStringFunc(text, func(match string) string {
		return abbreviations[match]
	})
	text = n.whitespacePattern.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
