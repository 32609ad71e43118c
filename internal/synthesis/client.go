package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client provides HTTP client functionality for the request/response
// speech synthesis service. Failures are terminal per request; the turn
// coordinator falls back to presenting text without audio.
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalAudioBytes uint64

	mu sync.RWMutex
}

// Config contains synthesis client configuration
type Config struct {
	Endpoint      string
	Provider      string
	VoiceID       string
	InputMode     string
	PerformanceID string
	DialectID     string
	Timeout       time.Duration
}

// request is the synthesis service request payload
type request struct {
	Text          string `json:"text"`
	Provider      string `json:"provider"`
	VoiceID       string `json:"voice_id,omitempty"`
	InputMode     string `json:"input_mode,omitempty"`
	PerformanceID string `json:"performance_id,omitempty"`
	DialectID     string `json:"dialect_id,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
	TotalAudioBytes uint64  `json:"total_audio_bytes"`
}

// NewClient creates a new synthesis service client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Synthesize requests speech audio for the given text. provider and
// voiceID override the configured defaults when non-empty. Returns the
// raw audio bytes of the response.
func (c *Client) Synthesize(ctx context.Context, text, provider, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	if provider == "" {
		provider = c.config.Provider
	}
	if voiceID == "" {
		voiceID = c.config.VoiceID
	}

	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	body, err := json.Marshal(request{
		Text:          text,
		Provider:      provider,
		VoiceID:       voiceID,
		InputMode:     c.config.InputMode,
		PerformanceID: c.config.PerformanceID,
		DialectID:     c.config.DialectID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(audio))
	}

	if len(audio) == 0 {
		c.recordFailure()
		return nil, fmt.Errorf("synthesis returned empty audio")
	}

	c.mu.Lock()
	c.successRequests++
	c.totalAudioBytes += uint64(len(audio))
	c.mu.Unlock()

	return audio, nil
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalAudioBytes: c.totalAudioBytes,
	}
}
