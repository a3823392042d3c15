package comfy

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

	"github.com/google/uuid"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to a ComfyUI server over HTTP.
type Client struct {
	baseURL    string
	clientID   string
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

// WithClientID overrides the generated client identifier.
func WithClientID(id string) Option {
	return func(c *Client) {
		if strings.TrimSpace(id) != "" {
			c.clientID = strings.TrimSpace(id)
		}
	}
}

// NewClient constructs a ComfyUI client for the given base URL.
func NewClient(baseURL string, requestTimeout time.Duration, opts ...Option) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID:   uuid.NewString(),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ClientID returns the identifier sent with every prompt submission. The
// websocket feed filters events by the same identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PromptResult is the server's answer to a prompt submission.
type PromptResult struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// HistoryStatus describes the terminal state of an executed prompt.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// ImageRef locates one output image on the server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput holds the artifacts one node produced.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// HistoryEntry is the recorded execution of one prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// Succeeded reports whether the prompt ran to completion on the server.
func (e *HistoryEntry) Succeeded() bool {
	if e == nil {
		return false
	}
	if e.Status.Completed {
		return true
	}
	return strings.EqualFold(e.Status.StatusStr, "success")
}

// Failed reports whether the server recorded an execution error.
func (e *HistoryEntry) Failed() bool {
	if e == nil {
		return false
	}
	return strings.EqualFold(e.Status.StatusStr, "error")
}

// ImageCount returns the total number of images across all node outputs.
func (e *HistoryEntry) ImageCount() int {
	if e == nil {
		return 0
	}
	total := 0
	for _, output := range e.Outputs {
		total += len(output.Images)
	}
	return total
}

// Device describes one compute device reported by /system_stats.
type Device struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
	TorchVRAMFree  int64  `json:"torch_vram_free"`
}

// SystemStats is the server's resource report.
type SystemStats struct {
	Devices []Device `json:"devices"`
}

// FreeVRAMMB returns the free VRAM of the first GPU device in megabytes,
// or -1 when no GPU device is reported.
func (s SystemStats) FreeVRAMMB() int64 {
	for _, device := range s.Devices {
		if strings.EqualFold(device.Type, "cpu") {
			continue
		}
		return device.VRAMFree / (1 << 20)
	}
	return -1
}

// QueueState summarizes the server-side execution queue.
type QueueState struct {
	Running int
	Pending int
}

// SubmitPrompt posts a workflow for execution and returns the assigned prompt ID.
func (c *Client) SubmitPrompt(ctx context.Context, workflow Workflow) (string, error) {
	if len(workflow) == 0 {
		return "", errors.New("comfy submit: empty workflow")
	}
	payload := map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	}
	var result PromptResult
	if err := c.postJSON(ctx, "/prompt", payload, &result); err != nil {
		return "", fmt.Errorf("comfy submit: %w", err)
	}
	if strings.TrimSpace(result.PromptID) == "" {
		return "", errors.New("comfy submit: server returned no prompt_id")
	}
	if len(result.NodeErrors) > 0 && string(result.NodeErrors) != "{}" && string(result.NodeErrors) != "null" {
		return "", fmt.Errorf("comfy submit: node errors: %s", result.NodeErrors)
	}
	return result.PromptID, nil
}

// History fetches the execution record for a prompt. It returns nil without
// error while the prompt has not finished, because the server only records
// history for completed executions.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return nil, errors.New("comfy history: prompt id required")
	}
	var entries map[string]HistoryEntry
	if err := c.getJSON(ctx, "/history/"+promptID, &entries); err != nil {
		return nil, fmt.Errorf("comfy history: %w", err)
	}
	entry, ok := entries[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// SystemStats fetches the server resource report.
func (c *Client) SystemStats(ctx context.Context) (SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return stats, fmt.Errorf("comfy system stats: %w", err)
	}
	return stats, nil
}

// Queue fetches the current execution queue depth.
func (c *Client) Queue(ctx context.Context) (QueueState, error) {
	var raw struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := c.getJSON(ctx, "/queue", &raw); err != nil {
		return QueueState{}, fmt.Errorf("comfy queue: %w", err)
	}
	return QueueState{Running: len(raw.Running), Pending: len(raw.Pending)}, nil
}

// Interrupt asks the server to cancel the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	if err := c.postJSON(ctx, "/interrupt", struct{}{}, nil); err != nil {
		return fmt.Errorf("comfy interrupt: %w", err)
	}
	return nil
}

// Health verifies the server is reachable and answering.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.SystemStats(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return c.do(req, target)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, target any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("http %d: %s", resp.StatusCode, summarizeBody(body))
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
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
