// Package core defines the interfaces shared between the synthesis,
// transport and storage layers of the TTS service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest holds the parameters for a single engine run.
type SpeechRequest struct {
	Text    string
	VoiceID string
	Rate    *float64
	Pitch   *float64
}

// SpeechEngine renders speech for a request into a WAV file at outputPath.
// It returns the audio duration in milliseconds when it knows it, or a
// negative value when the caller has to read it from the file.
type SpeechEngine interface {
	Render(ctx context.Context, req SpeechRequest, outputPath string) (int, error)
	Available() bool
}
