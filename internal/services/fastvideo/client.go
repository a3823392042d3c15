package fastvideo

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

const defaultRequestTimeout = 30 * time.Minute

// ErrInsufficientVRAM marks a generation rejected because the server ran out
// of GPU memory. The server reports this as HTTP 507.
var ErrInsufficientVRAM = errors.New("fastvideo: insufficient vram")

// Client talks to a FastVideo server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a FastVideo client for the given base URL.
func NewClient(baseURL string, requestTimeout time.Duration, opts ...Option) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// GenerateRequest describes one clip generation.
type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
	KeyframeBase64 string `json:"keyframeBase64,omitempty"`
	FPS            int    `json:"fps"`
	NumFrames      int    `json:"numFrames"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Seed           int64  `json:"seed,omitempty"`
}

// GenerateResult is the server's answer to a generation request.
type GenerateResult struct {
	Status          string `json:"status"`
	OutputVideoPath string `json:"outputVideoPath"`
	Frames          int    `json:"frames"`
	DurationMs      int64  `json:"durationMs"`
	Error           string `json:"error"`
}

// Generate runs one clip generation and returns the server-side output path.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	var result GenerateResult
	if strings.TrimSpace(req.Prompt) == "" {
		return result, errors.New("fastvideo generate: prompt required")
	}

	encoded, err := json.Marshal(req)
	if err != nil {
		return result, fmt.Errorf("fastvideo generate: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(encoded))
	if err != nil {
		return result, fmt.Errorf("fastvideo generate: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return result, fmt.Errorf("fastvideo generate: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, fmt.Errorf("fastvideo generate: read body: %w", err)
	}

	if resp.StatusCode == http.StatusInsufficientStorage {
		return result, fmt.Errorf("%w: %s", ErrInsufficientVRAM, summarizeBody(body))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("fastvideo generate: http %d: %s", resp.StatusCode, summarizeBody(body))
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return result, fmt.Errorf("fastvideo generate: decode response: %w", err)
	}
	if !strings.EqualFold(result.Status, "ok") && !strings.EqualFold(result.Status, "success") {
		message := strings.TrimSpace(result.Error)
		if message == "" {
			message = result.Status
		}
		return result, fmt.Errorf("fastvideo generate: server reported failure: %s", message)
	}
	if strings.TrimSpace(result.OutputVideoPath) == "" {
		return result, errors.New("fastvideo generate: server returned no output path")
	}
	return result, nil
}

// Health verifies the server is reachable and ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("fastvideo health: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fastvideo health: http error: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fastvideo health: http %d: %s", resp.StatusCode, summarizeBody(body))
	}
	return nil
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 200
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
