package audiocache

import (
	"crypto/sha1" // #nosec G505 -- content addressing, not a security boundary
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

const (
	// KeyLength is the number of hex characters kept from the digest.
	KeyLength = 12
	// FileExtension is the extension of every cached artifact.
	FileExtension = ".wav"

	keyPartSeparator  = "|"
	defaultVoiceToken = "voice"
	voiceTokenTrimSet = "-"
)

var unsafeVoiceChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// KeyInputs is the parameter tuple a synthesis request is cached under.
type KeyInputs struct {
	VoiceID string
	Rate    *float64
	Pitch   *float64
	Text    string
}

// Parts returns the ordered key parts: voice id, rate, pitch and text, with
// absent rate or pitch rendered as the empty string.
func (k KeyInputs) Parts() []string {
	return []string{k.VoiceID, formatOptional(k.Rate), formatOptional(k.Pitch), k.Text}
}

// Key returns the content-addressed digest of the inputs.
func (k KeyInputs) Key() string {
	return BuildCacheKey(k.Parts()...)
}

// Filename returns the cache filename for the inputs.
func (k KeyInputs) Filename() string {
	return CacheFilename(k.Key(), k.VoiceID)
}

// BuildCacheKey hashes the parts joined with "|" and returns the first
// KeyLength lowercase hex characters. Parts are not escaped, so a part
// containing "|" can collide with a different split of the same string.
func BuildCacheKey(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, keyPartSeparator))) // #nosec G401

	return hex.EncodeToString(sum[:])[:KeyLength]
}

// SanitizeVoiceID maps a voice identifier to a filesystem-safe token.
// Characters outside [A-Za-z0-9_-] become "-", surrounding dashes are
// stripped, and an empty result falls back to "voice".
func SanitizeVoiceID(voiceID string) string {
	sanitized := unsafeVoiceChars.ReplaceAllString(voiceID, "-")
	sanitized = strings.Trim(sanitized, voiceTokenTrimSet)

	if sanitized == "" {
		return defaultVoiceToken
	}

	return sanitized
}

// CacheFilename builds "<key>-<sanitized voice>.wav".
func CacheFilename(key, voiceID string) string {
	return key + "-" + SanitizeVoiceID(voiceID) + FileExtension
}

func formatOptional(value *float64) string {
	if value == nil {
		return ""
	}

	return strconv.FormatFloat(*value, 'f', -1, 64)
}
