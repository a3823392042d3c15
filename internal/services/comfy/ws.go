package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// EventType classifies websocket messages from the server.
type EventType string

const (
	EventExecuting      EventType = "executing"
	EventProgress       EventType = "progress"
	EventExecuted       EventType = "executed"
	EventExecutionError EventType = "execution_error"
)

// Event is one progress update for a running prompt.
type Event struct {
	Type     EventType
	PromptID string
	Node     string
	Value    int
	Max      int
	Message  string
}

// Done reports whether the event marks the end of prompt execution.
// The server sends an executing event with a null node when a prompt finishes.
func (e Event) Done() bool {
	return e.Type == EventExecuting && e.Node == ""
}

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		Node      *string `json:"node"`
		PromptID  string  `json:"prompt_id"`
		Value     int     `json:"value"`
		Max       int     `json:"max"`
		Exception string  `json:"exception_message"`
	} `json:"data"`
}

// ListenProgress connects to the server's websocket feed and delivers events
// until the context is canceled or the connection drops. Callers treat this as
// advisory: polling decides job completion, not the feed.
func (c *Client) ListenProgress(ctx context.Context, onEvent func(Event)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("comfy ws: dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("comfy ws: read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			// Binary preview frames and unknown payloads are skipped.
			continue
		}

		event := Event{
			Type:     EventType(msg.Type),
			PromptID: msg.Data.PromptID,
			Value:    msg.Data.Value,
			Max:      msg.Data.Max,
			Message:  msg.Data.Exception,
		}
		if msg.Data.Node != nil {
			event.Node = *msg.Data.Node
		}

		switch event.Type {
		case EventExecuting, EventProgress, EventExecuted, EventExecutionError:
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}

func (c *Client) websocketURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("comfy ws: parse base url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("comfy ws: unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	query := parsed.Query()
	query.Set("clientId", c.clientID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
