package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/core"
	"github.com/book-expert/paperread-tts/internal/tts/audio"
	"github.com/book-expert/paperread-tts/internal/tts/text"
)

// Environment variables the piper wrapper reads prosody from.
const (
	envPiperRate  = "PIPER_RATE"
	envPiperPitch = "PIPER_PITCH"
)

// How long a killed piper run may keep its output pipes open.
const piperWaitDelay = 2 * time.Second

// Suffixes tried when a voice resolves to a path without a model extension.
var modelSuffixes = []string{".onnx", ".bin", ".pt"}

// PiperConfig configures the local piper binary.
type PiperConfig struct {
	BinaryPath string
	VoiceDir   string
	Aliases    map[string]string
	Timeout    time.Duration
}

// PiperEngine implements core.SpeechEngine by running the piper binary.
// When the binary is not configured or fails, it writes a silent placeholder
// so that callers always receive playable audio. A run cut short by its
// context leaves nothing at the output path.
type PiperEngine struct {
	config     PiperConfig
	normalizer *text.Normalizer
	log        *logger.Logger
}

// NewPiperEngine creates a PiperEngine.
func NewPiperEngine(cfg PiperConfig, log *logger.Logger) *PiperEngine {
	return &PiperEngine{
		config:     cfg,
		normalizer: text.NewNormalizer(),
		log:        log,
	}
}

// Available reports whether the configured piper binary exists.
func (e *PiperEngine) Available() bool {
	if e.config.BinaryPath == "" {
		return false
	}

	info, err := os.Stat(e.config.BinaryPath)

	return err == nil && !info.IsDir()
}

// ModelPath maps a voice id to the model file handed to piper.
func (e *PiperEngine) ModelPath(voiceID string) string {
	model := voiceID
	if alias, ok := e.config.Aliases[voiceID]; ok && alias != "" {
		model = alias
	}

	if filepath.IsAbs(model) {
		return model
	}

	candidate := filepath.Join(e.config.VoiceDir, model)

	_, err := os.Stat(candidate)
	if err == nil || filepath.Ext(candidate) != "" {
		return candidate
	}

	for _, suffix := range modelSuffixes {
		_, err = os.Stat(candidate + suffix)
		if err == nil {
			return candidate + suffix
		}
	}

	return candidate
}

// Render synthesizes req into outputPath.
func (e *PiperEngine) Render(ctx context.Context, req core.SpeechRequest, outputPath string) (int, error) {
	if !e.Available() {
		return audio.WriteStub(outputPath)
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(outputPath), ".piper-*.wav")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for piper output: %w", err)
	}

	tempPath := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			e.log.Warn("Failed to remove temp file '%s': %v", tempPath, removeErr)
		}
	}()

	args := []string{
		"--model", e.ModelPath(req.VoiceID),
		"--output_file", tempPath,
	}

	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.CommandContext(ctx, e.config.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(e.normalizer.Normalize(req.Text))
	cmd.Env = append(os.Environ(), prosodyEnv(req)...)
	cmd.WaitDelay = piperWaitDelay

	output, err := cmd.CombinedOutput()
	if err != nil && ctx.Err() != nil {
		return 0, fmt.Errorf("piper aborted for voice %s: %w", req.VoiceID, ctx.Err())
	}

	if err != nil {
		e.log.Warn("Piper failed for voice %s, writing placeholder audio: %v - output: %s",
			req.VoiceID, err, strings.TrimSpace(string(output)))

		return audio.WriteStub(outputPath)
	}

	err = os.Rename(tempPath, outputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to move piper output into place: %w", err)
	}

	return -1, nil
}

func prosodyEnv(req core.SpeechRequest) []string {
	var env []string

	if req.Rate != nil {
		env = append(env, envPiperRate+"="+strconv.FormatFloat(*req.Rate, 'f', -1, 64))
	}

	if req.Pitch != nil {
		env = append(env, envPiperPitch+"="+strconv.FormatFloat(*req.Pitch, 'f', -1, 64))
	}

	return env
}
