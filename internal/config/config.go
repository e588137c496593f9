// Package config provides the configuration structure for the tts-service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/fsutil"
	"github.com/caarlos0/env/v11"
)

// Defaults applied to fields left unset by both the config file and the
// environment.
const (
	DefaultListenAddr             = ":8000"
	DefaultMediaURLPrefix         = "/media"
	DefaultMediaDir               = "/data/media"
	DefaultBooksDir               = "/data/books"
	DefaultMaxChars               = 5000
	DefaultMaxUploadBytes         = 25 * 1024 * 1024
	DefaultRequestLimit           = 60
	DefaultRequestWindowSeconds   = 60
	DefaultDownloadTimeoutSeconds = 60
	DefaultSynthesisTimeout       = 120
	DefaultShutdownTimeoutSeconds = 10
	DefaultTextProcessedSubject   = "text.processed"
	DefaultBookDeletedSubject     = "library.book.deleted"
	DefaultObjectStoreBucket      = "AUDIO_FILES"

	audioIndexFileName      = "audio_index.json"
	libraryMetadataFileName = "library.json"
	voicesDirName           = "voices"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr             string `toml:"listen_addr"              env:"LISTEN_ADDR"`
	MediaURLPrefix         string `toml:"media_url_prefix"         env:"MEDIA_URL_PREFIX"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	MediaDir            string `toml:"media_dir"             env:"MEDIA_DIR"`
	BooksDir            string `toml:"books_dir"             env:"BOOKS_DIR"`
	AudioIndexFile      string `toml:"audio_index_file"      env:"AUDIO_INDEX_FILE"`
	LibraryMetadataFile string `toml:"library_metadata_file" env:"LIBRARY_METADATA_FILE"`
	BaseLogsDir         string `toml:"base_logs_dir"         env:"LOGS_DIR"`
}

// TTSServiceConfig holds the offline synthesis engine settings.
type TTSServiceConfig struct {
	PiperBin       string `toml:"piper_bin"       env:"PIPER_BIN"`
	MaxChars       int    `toml:"max_chars"       env:"MAX_CHARS"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"TTS_TIMEOUT_SECONDS"`
}

// VoicesConfig holds the voice model directory and catalog settings.
type VoicesConfig struct {
	VoiceDir               string            `toml:"voice_dir"                env:"VOICE_DIR"`
	Aliases                map[string]string `toml:"aliases"`
	AliasesJSON            string            `toml:"-"                        env:"VOICE_ALIASES"`
	ManifestPath           string            `toml:"manifest_path"            env:"VOICE_MANIFEST_PATH"`
	ManifestJSON           string            `toml:"manifest_json"            env:"VOICE_MANIFEST_JSON"`
	DownloadBaseURL        string            `toml:"download_base_url"        env:"VOICE_DOWNLOAD_BASE_URL"`
	DownloadTimeoutSeconds int               `toml:"download_timeout_seconds" env:"VOICE_DOWNLOAD_TIMEOUT"`
}

// LimitsConfig holds request and upload limits.
type LimitsConfig struct {
	MaxUploadBytes       int64 `toml:"max_upload_bytes"       env:"MAX_UPLOAD_BYTES"`
	RequestLimit         int   `toml:"request_limit"          env:"REQUEST_LIMIT"`
	RequestWindowSeconds int   `toml:"request_window_seconds" env:"REQUEST_WINDOW_SECONDS"`
}

// OnlineConfig holds the upstream online TTS proxy settings.
type OnlineConfig struct {
	Enabled bool   `toml:"enabled"  env:"ENABLE_ONLINE_PROXY"`
	BaseURL string `toml:"base_url" env:"ONLINE_TTS_BASE_URL"`
	APIKey  string `toml:"api_key"  env:"ONLINE_TTS_API_KEY"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables the
// worker.
type NATSConfig struct {
	URL                  string `toml:"url"                    env:"NATS_URL"`
	TextProcessedSubject string `toml:"text_processed_subject" env:"NATS_TEXT_PROCESSED_SUBJECT"`
	BookDeletedSubject   string `toml:"book_deleted_subject"   env:"NATS_BOOK_DELETED_SUBJECT"`
	ObjectStoreBucket    string `toml:"object_store_bucket"    env:"NATS_OBJECT_STORE_BUCKET"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig     `toml:"server"`
	Paths  PathsConfig      `toml:"paths"`
	TTS    TTSServiceConfig `toml:"tts_service"`
	Voices VoicesConfig     `toml:"voices"`
	Limits LimitsConfig     `toml:"limits"`
	Online OnlineConfig     `toml:"online"`
	NATS   NATSConfig       `toml:"nats"`
}

// Load loads the configuration for the tts-service from the project config
// file and then applies environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg, log)
}

// FromEnv builds the configuration from environment variables only.
func FromEnv(log *logger.Logger) (*Config, error) {
	return finish(&Config{}, log)
}

func finish(cfg *Config, log *logger.Logger) (*Config, error) {
	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	cfg.mergeAliases(log)
	cfg.ApplyDefaults()

	return cfg, nil
}

// mergeAliases folds the VOICE_ALIASES JSON object into the alias table.
// Invalid JSON is logged and ignored.
func (c *Config) mergeAliases(log *logger.Logger) {
	if c.Voices.AliasesJSON == "" {
		return
	}

	var parsed map[string]any

	err := json.Unmarshal([]byte(c.Voices.AliasesJSON), &parsed)
	if err != nil {
		log.Warn("Invalid VOICE_ALIASES JSON; ignoring: %v", err)

		return
	}

	if c.Voices.Aliases == nil {
		c.Voices.Aliases = make(map[string]string, len(parsed))
	}

	for key, value := range parsed {
		c.Voices.Aliases[key] = fmt.Sprint(value)
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.ListenAddr, DefaultListenAddr)
	setDefault(&c.Server.MediaURLPrefix, DefaultMediaURLPrefix)
	setDefault(&c.Server.ShutdownTimeoutSeconds, DefaultShutdownTimeoutSeconds)

	setDefault(&c.Paths.MediaDir, DefaultMediaDir)
	setDefault(&c.Paths.BooksDir, DefaultBooksDir)
	setDefault(&c.Paths.AudioIndexFile, filepath.Join(c.Paths.MediaDir, audioIndexFileName))
	setDefault(&c.Paths.LibraryMetadataFile, filepath.Join(c.Paths.BooksDir, libraryMetadataFileName))
	setDefault(&c.Paths.BaseLogsDir, os.TempDir())

	setDefault(&c.TTS.MaxChars, DefaultMaxChars)
	setDefault(&c.TTS.TimeoutSeconds, DefaultSynthesisTimeout)

	setDefault(&c.Voices.VoiceDir, filepath.Join(c.Paths.MediaDir, voicesDirName))
	setDefault(&c.Voices.DownloadTimeoutSeconds, DefaultDownloadTimeoutSeconds)

	setDefault(&c.Limits.MaxUploadBytes, DefaultMaxUploadBytes)
	setDefault(&c.Limits.RequestLimit, DefaultRequestLimit)
	setDefault(&c.Limits.RequestWindowSeconds, DefaultRequestWindowSeconds)

	setDefault(&c.NATS.TextProcessedSubject, DefaultTextProcessedSubject)
	setDefault(&c.NATS.BookDeletedSubject, DefaultBookDeletedSubject)
	setDefault(&c.NATS.ObjectStoreBucket, DefaultObjectStoreBucket)
}

// Prepare resolves the data directories to absolute paths and creates them.
func (c *Config) Prepare() error {
	for _, path := range []*string{&c.Paths.MediaDir, &c.Paths.BooksDir, &c.Voices.VoiceDir} {
		absPath, err := filepath.Abs(*path)
		if err != nil {
			return fmt.Errorf("failed to resolve %q: %w", *path, err)
		}

		*path = absPath
	}

	dirs := []string{
		c.Paths.MediaDir,
		c.Paths.BooksDir,
		c.Voices.VoiceDir,
		c.Paths.BaseLogsDir,
		filepath.Dir(c.Paths.AudioIndexFile),
		filepath.Dir(c.Paths.LibraryMetadataFile),
	}

	for _, dir := range dirs {
		err := fsutil.EnsureDir(dir)
		if err != nil {
			return err
		}
	}

	return nil
}

// RequestWindow returns the rate limit window.
func (c *Config) RequestWindow() time.Duration {
	return time.Duration(c.Limits.RequestWindowSeconds) * time.Second
}

// DownloadTimeout returns the voice download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Voices.DownloadTimeoutSeconds) * time.Second
}

// SynthesisTimeout returns the upper bound for one engine run.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns how long the HTTP server waits for in-flight
// requests on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
