package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and headers of the online TTS service.
const (
	apiGenerate       = "/tts/generate"
	headerContentType = "Content-Type"
	headerAuth        = "Authorization"
	contentTypeJSON   = "application/json"
)

// DefaultOnlineTimeout bounds a single proxied request.
const DefaultOnlineTimeout = 30 * time.Second

// ErrOnlineProxyDisabled is returned when the online proxy is switched off
// or has no base URL.
var ErrOnlineProxyDisabled = errors.New("online proxy disabled")

// UpstreamError carries a non-success response of the online service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("online TTS service returned status %d: %s", e.StatusCode, e.Body)
}

// OnlineResult is the subset of the upstream response passed back to clients.
type OnlineResult struct {
	AudioURL   *string  `json:"audio_url"`
	DurationMS *float64 `json:"duration_ms"`
}

// OnlineConfig configures the proxy to the online TTS service.
type OnlineConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OnlineClient forwards synthesis requests to a remote TTS service.
type OnlineClient struct {
	httpClient *http.Client
	config     OnlineConfig
}

// NewOnlineClient creates an OnlineClient. A zero timeout uses
// DefaultOnlineTimeout.
func NewOnlineClient(cfg OnlineConfig) *OnlineClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOnlineTimeout
	}

	return &OnlineClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Enabled reports whether requests can be forwarded.
func (c *OnlineClient) Enabled() bool {
	return c.config.Enabled && c.config.BaseURL != ""
}

// Forward sends req to the online service and returns its audio location.
func (c *OnlineClient) Forward(ctx context.Context, req Request) (*OnlineResult, error) {
	if !c.Enabled() {
		return nil, ErrOnlineProxyDisabled
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + apiGenerate

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	if c.config.APIKey != "" {
		httpReq.Header.Set(headerAuth, "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach online TTS service at %s: %w", c.config.BaseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read online TTS response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result OnlineResult

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode online TTS response: %w", err)
	}

	return &result, nil
}
