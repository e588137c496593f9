// Package voices manages the voice catalog and downloads voice models into
// the voice directory.
package voices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/fsutil"
)

const (
	defaultLanguage        = "und"
	modelExtension         = ".onnx"
	downloadSuffix         = ".download"
	statusReady            = "ready"
	defaultDownloadTimeout = 60 * time.Second
	defaultDownloadHost    = "https://voice.paperread.example/"
)

var (
	// ErrVoiceNotFound is returned for voice ids missing from the catalog.
	ErrVoiceNotFound = errors.New("voice not found")
	// ErrMissingDownloadURL is returned when no download URL can be derived.
	ErrMissingDownloadURL = errors.New("voice missing download url")
	// ErrInvalidVoiceFile is returned when a manifest filename points outside
	// the voice directory.
	ErrInvalidVoiceFile = errors.New("voice filename outside voice directory")
	// ErrDownloadRequest is returned when the download request itself fails.
	ErrDownloadRequest = errors.New("voice download request failed")
	// ErrVoiceWrite is returned when the downloaded model cannot be stored.
	ErrVoiceWrite = errors.New("unable to write voice file")
)

// DownloadStatusError reports a non-success status from the model host.
type DownloadStatusError struct {
	StatusCode int
}

func (e *DownloadStatusError) Error() string {
	return fmt.Sprintf("voice download failed with status %d", e.StatusCode)
}

// Entry is one voice in the manifest.
type Entry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Language    string   `json:"language,omitempty"`
	Gender      *string  `json:"gender,omitempty"`
	SizeMB      *float64 `json:"size_mb,omitempty"`
	SampleURL   *string  `json:"sample_url,omitempty"`
	DownloadURL string   `json:"download_url,omitempty"`
	Filename    string   `json:"filename,omitempty"`
}

// Voice is a catalog entry as presented to clients.
type Voice struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Language  string   `json:"language"`
	Gender    *string  `json:"gender"`
	SampleURL *string  `json:"sample_url"`
	SizeMB    *float64 `json:"size_mb"`
	Installed bool     `json:"installed"`
}

// DownloadResult is returned once a voice model is available locally.
type DownloadResult struct {
	Status    string   `json:"status"`
	VoiceID   string   `json:"voice_id"`
	SizeMB    *float64 `json:"size_mb"`
	Installed bool     `json:"installed"`
}

// Config locates the manifest and the voice directory.
type Config struct {
	VoiceDir        string
	ManifestPath    string
	ManifestJSON    string
	DownloadBaseURL string
	DownloadTimeout time.Duration
}

// Catalog reads the voice manifest on every call so that edits take effect
// without a restart.
type Catalog struct {
	config     Config
	httpClient *http.Client
	log        *logger.Logger
}

// NewCatalog creates a Catalog.
func NewCatalog(cfg Config, log *logger.Logger) *Catalog {
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}

	return &Catalog{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Entries returns the effective manifest: the manifest file, then the inline
// JSON manifest, then the built-in catalog.
func (c *Catalog) Entries() []Entry {
	if c.config.ManifestPath != "" {
		data, err := os.ReadFile(c.config.ManifestPath)

		switch {
		case err == nil:
			entries := c.parseManifest(data)
			if len(entries) > 0 {
				return entries
			}

			return DefaultCatalog()
		case !errors.Is(err, os.ErrNotExist):
			c.log.Warn("Unable to read voice manifest file %s: %v", c.config.ManifestPath, err)
		}
	}

	if c.config.ManifestJSON != "" {
		entries := c.parseManifest([]byte(c.config.ManifestJSON))
		if len(entries) > 0 {
			return entries
		}
	}

	return DefaultCatalog()
}

// List returns every catalog voice with its install state.
func (c *Catalog) List() []Voice {
	entries := c.Entries()
	voices := make([]Voice, 0, len(entries))

	for _, entry := range entries {
		voice := Voice{
			ID:        entry.ID,
			Name:      entry.Name,
			Language:  entry.Language,
			Gender:    entry.Gender,
			SampleURL: entry.SampleURL,
			SizeMB:    entry.SizeMB,
		}

		if voice.Name == "" {
			voice.Name = entry.ID
		}

		if voice.Language == "" {
			voice.Language = defaultLanguage
		}

		target, err := c.modelPath(entry)
		if err == nil {
			voice.Installed, _ = fsutil.Exists(target)
		}

		voices = append(voices, voice)
	}

	return voices
}

// Download fetches the model for voiceID unless it is already installed.
func (c *Catalog) Download(ctx context.Context, voiceID string) (*DownloadResult, error) {
	entry, err := c.entry(voiceID)
	if err != nil {
		return nil, err
	}

	ready := &DownloadResult{Status: statusReady, VoiceID: voiceID, SizeMB: entry.SizeMB, Installed: true}

	target, err := c.modelPath(entry)
	if err != nil {
		return nil, err
	}

	exists, err := fsutil.Exists(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVoiceWrite, err)
	}

	if exists {
		return ready, nil
	}

	url := c.downloadURL(entry)
	if url == "" {
		return nil, ErrMissingDownloadURL
	}

	err = c.fetch(ctx, url, target)
	if err != nil {
		return nil, err
	}

	c.log.Info("Downloaded voice %s to %s", voiceID, target)

	return ready, nil
}

func (c *Catalog) fetch(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("Voice download request failed: %v", err)

		return fmt.Errorf("%w: %w", ErrDownloadRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &DownloadStatusError{StatusCode: resp.StatusCode}
	}

	err = fsutil.EnsureDir(filepath.Dir(target))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVoiceWrite, err)
	}

	tempPath := target + downloadSuffix

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fsutil.FilePermissions) // #nosec G304
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVoiceWrite, err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()

	if copyErr != nil {
		_ = os.Remove(tempPath)
		c.log.Warn("Voice download from %s interrupted: %v", url, copyErr)

		return fmt.Errorf("%w: %w", ErrDownloadRequest, copyErr)
	}

	if closeErr == nil {
		closeErr = os.Rename(tempPath, target)
	}

	if closeErr != nil {
		_ = os.Remove(tempPath)
		c.log.Warn("Voice file write failed: %v", closeErr)

		return fmt.Errorf("%w: %w", ErrVoiceWrite, closeErr)
	}

	return nil
}

func (c *Catalog) entry(voiceID string) (Entry, error) {
	for _, entry := range c.Entries() {
		if entry.ID == voiceID {
			return entry, nil
		}
	}

	return Entry{}, ErrVoiceNotFound
}

func (c *Catalog) modelPath(entry Entry) (string, error) {
	filename := entry.Filename
	if filename == "" {
		filename = entry.ID + modelExtension
	}

	if !filepath.IsLocal(filename) {
		return "", ErrInvalidVoiceFile
	}

	return filepath.Join(c.config.VoiceDir, filename), nil
}

// downloadURL resolves the model URL: an absolute download_url as is, a
// relative one against the base URL, and otherwise the filename against the
// base URL.
func (c *Catalog) downloadURL(entry Entry) string {
	base := strings.TrimRight(c.config.DownloadBaseURL, "/")

	if entry.DownloadURL == "" {
		if entry.Filename == "" || base == "" {
			return ""
		}

		return base + "/" + strings.TrimLeft(entry.Filename, "/")
	}

	if strings.HasPrefix(entry.DownloadURL, "http://") || strings.HasPrefix(entry.DownloadURL, "https://") {
		return entry.DownloadURL
	}

	if base == "" {
		return ""
	}

	return base + "/" + strings.TrimLeft(entry.DownloadURL, "/")
}

// parseManifest accepts a list of entries or an object with a "voices" list.
// Entries that are not objects with a non-empty string id are dropped.
func (c *Catalog) parseManifest(data []byte) []Entry {
	var raw json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		c.log.Warn("Invalid voice manifest JSON; falling back to defaults: %v", err)

		return nil
	}

	var wrapped struct {
		Voices []json.RawMessage `json:"voices"`
	}

	items := []json.RawMessage{}

	if json.Unmarshal(raw, &items) != nil {
		if json.Unmarshal(raw, &wrapped) != nil {
			c.log.Warn("Voice manifest must be a list; falling back to defaults")

			return nil
		}

		items = wrapped.Voices
	}

	entries := make([]Entry, 0, len(items))

	for _, item := range items {
		var entry Entry

		if json.Unmarshal(item, &entry) != nil || entry.ID == "" {
			continue
		}

		entries = append(entries, entry)
	}

	return entries
}
