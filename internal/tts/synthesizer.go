// Package tts turns synthesis requests into cached WAV files. It owns the
// orchestration around the content-addressed cache, the local piper engine
// and the optional proxy to an online TTS service.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/core"
	"github.com/book-expert/paperread-tts/internal/fsutil"
	"github.com/book-expert/paperread-tts/internal/tts/audio"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTextEmpty is returned when a request carries no text.
	ErrTextEmpty = errors.New("text must not be empty")
	// ErrVoiceEmpty is returned when a request carries no voice id.
	ErrVoiceEmpty = errors.New("voice_id must not be empty")
	// ErrTextTooLong is returned when the text exceeds the configured limit.
	ErrTextTooLong = errors.New("text exceeds max length")
)

// Request is a single synthesis request.
type Request struct {
	Text    string   `json:"text"`
	VoiceID string   `json:"voice_id"`
	Rate    *float64 `json:"rate,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	BookID  string   `json:"book_id,omitempty"`
}

// Validate checks the required fields.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrTextEmpty
	}

	if r.VoiceID == "" {
		return ErrVoiceEmpty
	}

	return nil
}

// KeyInputs returns the cache key inputs for the request.
func (r Request) KeyInputs() audiocache.KeyInputs {
	return audiocache.KeyInputs{
		VoiceID: r.VoiceID,
		Rate:    r.Rate,
		Pitch:   r.Pitch,
		Text:    r.Text,
	}
}

// Result describes a cached audio file.
type Result struct {
	FilePath   string
	Filename   string
	AudioURL   string
	DurationMS *int
}

// SynthesizerConfig holds the request limits and URL layout.
type SynthesizerConfig struct {
	MediaURLPrefix string
	MaxChars       int
}

// Synthesizer serves requests from the cache and renders misses with the
// speech engine.
type Synthesizer struct {
	cache  *audiocache.Cache
	engine core.SpeechEngine
	config SynthesizerConfig
	group  singleflight.Group
	log    *logger.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(
	cache *audiocache.Cache,
	engine core.SpeechEngine,
	cfg SynthesizerConfig,
	log *logger.Logger,
) *Synthesizer {
	return &Synthesizer{
		cache:  cache,
		engine: engine,
		config: cfg,
		log:    log,
	}
}

// Validate checks the required fields and the text length limit.
func (s *Synthesizer) Validate(req Request) error {
	err := req.Validate()
	if err != nil {
		return err
	}

	if s.config.MaxChars > 0 && utf8.RuneCountInString(req.Text) > s.config.MaxChars {
		return fmt.Errorf("%w (%d characters)", ErrTextTooLong, s.config.MaxChars)
	}

	return nil
}

// Synthesize returns the cached audio for req, rendering it first when the
// cache has no file for its key.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	filename := req.KeyInputs().Filename()

	path, err := s.cache.Resolve(filename)
	if err != nil {
		return nil, err
	}

	// Shared by every caller waiting on filename. Only the engine timeout
	// bounds it, never a single caller's context.
	renderCtx := context.WithoutCancel(ctx)
	rendered := s.group.DoChan(filename, func() (any, error) {
		return s.render(renderCtx, req, path)
	})

	var outcome singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("synthesis of %s abandoned: %w", filename, ctx.Err())
	case outcome = <-rendered:
	}

	if outcome.Err != nil {
		return nil, outcome.Err
	}

	durationMS, ok := outcome.Val.(int)
	if !ok {
		durationMS = -1
	}

	if durationMS < 0 {
		durationMS, err = audio.DurationMS(path)
		if err != nil {
			s.log.Warn("Could not read duration of %s: %v", filename, err)

			durationMS = -1
		}
	}

	err = s.cache.Record(req.BookID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s in audio index: %w", filename, err)
	}

	result := &Result{
		FilePath: path,
		Filename: filename,
		AudioURL: strings.TrimRight(s.config.MediaURLPrefix, "/") + "/" + filename,
	}
	if durationMS >= 0 {
		result.DurationMS = &durationMS
	}

	return result, nil
}

// render runs the engine when path does not exist yet. It returns the
// engine's duration, or -1 when the duration has to be read from the file.
func (s *Synthesizer) render(ctx context.Context, req Request, path string) (int, error) {
	exists, err := fsutil.Exists(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", audiocache.ErrFilesystem, err)
	}

	if exists {
		return -1, nil
	}

	durationMS, err := s.engine.Render(ctx, core.SpeechRequest{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		Rate:    req.Rate,
		Pitch:   req.Pitch,
	}, path)
	if err != nil {
		return 0, fmt.Errorf("synthesis failed for voice %s: %w", req.VoiceID, err)
	}

	s.log.Info("Rendered %s for voice %s", path, req.VoiceID)

	return durationMS, nil
}
