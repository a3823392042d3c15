package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"storyreel/internal/config"
)

const userAgent = "StoryReel-Go/0.1.0"

// Event identifies a workflow milestone worth telling the operator about.
type Event string

const (
	EventScriptingCompleted  Event = "scripting_completed"
	EventRenderingCompleted  Event = "rendering_completed"
	EventAnimationCompleted  Event = "animation_completed"
	EventAssemblyCompleted   Event = "assembly_completed"
	EventProcessingCompleted Event = "processing_completed"
	EventQueueStarted        Event = "queue_started"
	EventQueueCompleted      Event = "queue_completed"
	EventReviewRequired      Event = "review_required"
	EventError               Event = "error"
	EventTest                Event = "test"
)

// Payload carries event-specific fields referenced by the message templates.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		enabled:     enabledEvents(cfg),
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

func enabledEvents(cfg *config.Config) map[Event]bool {
	n := cfg.Notifications
	return map[Event]bool{
		EventScriptingCompleted:  n.Scripting,
		EventRenderingCompleted:  n.Rendering,
		EventAnimationCompleted:  n.Animation,
		EventAssemblyCompleted:   n.Assembly,
		EventProcessingCompleted: n.Assembly,
		EventQueueStarted:        n.Queue,
		EventQueueCompleted:      n.Queue,
		EventReviewRequired:      n.Review,
		EventError:               n.Errors,
		EventTest:                true,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	enabled     map[Event]bool
	dedupWindow time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg := render(event, payload)
	if msg.body == "" {
		return nil
	}
	if n.suppressed(event, msg.body) {
		return nil
	}
	return n.send(ctx, msg)
}

// suppressed reports whether the same event+body was sent within the dedup
// window, and records this send when it was not.
func (n *ntfyService) suppressed(event Event, body string) bool {
	if n.dedupWindow <= 0 {
		return false
	}
	key := string(event) + "\x00" + body
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.dedupWindow {
		return true
	}
	n.lastSent[key] = now
	return false
}

func render(event Event, payload Payload) message {
	title := field(payload, "title")
	switch event {
	case EventScriptingCompleted:
		return message{
			title: "StoryReel - Scripted",
			body:  fmt.Sprintf("Script ready: %s (%s scenes)", title, field(payload, "scenes")),
			tags:  []string{"storyreel", "scripting", "completed"},
		}
	case EventRenderingCompleted:
		return message{
			title: "StoryReel - Rendered",
			body:  fmt.Sprintf("Keyframes rendered: %s", title),
			tags:  []string{"storyreel", "rendering", "completed"},
		}
	case EventAnimationCompleted:
		return message{
			title: "StoryReel - Animated",
			body:  fmt.Sprintf("Scene clips generated: %s", title),
			tags:  []string{"storyreel", "animation", "completed"},
		}
	case EventAssemblyCompleted:
		body := fmt.Sprintf("Assembly complete: %s", title)
		if archive := field(payload, "archive"); archive != "" {
			body = fmt.Sprintf("%s\nArchive: %s", body, archive)
		}
		return message{
			title: "StoryReel - Assembled",
			body:  body,
			tags:  []string{"storyreel", "assembly", "completed"},
		}
	case EventProcessingCompleted:
		return message{
			title:    "StoryReel - Complete",
			body:     fmt.Sprintf("Ready to watch: %s", title),
			tags:     []string{"storyreel", "workflow", "completed"},
			priority: "high",
		}
	case EventQueueStarted:
		return message{
			title: "StoryReel - Queue Started",
			body:  fmt.Sprintf("Started processing queue with %s items", field(payload, "count")),
			tags:  []string{"storyreel", "queue", "started"},
		}
	case EventQueueCompleted:
		processed := field(payload, "processed")
		failed := field(payload, "failed")
		if failed == "" || failed == "0" {
			return message{
				title: "StoryReel - Queue Complete",
				body:  fmt.Sprintf("Queue processing complete: %s items processed", processed),
				tags:  []string{"storyreel", "queue", "completed"},
			}
		}
		return message{
			title: "StoryReel - Queue Complete (with errors)",
			body:  fmt.Sprintf("Queue processing complete: %s succeeded, %s failed", processed, failed),
			tags:  []string{"storyreel", "queue", "completed"},
		}
	case EventReviewRequired:
		body := fmt.Sprintf("Manual review required: %s", title)
		if reason := field(payload, "reason"); reason != "" {
			body = fmt.Sprintf("%s\nReason: %s", body, reason)
		}
		return message{
			title: "StoryReel - Review",
			body:  body,
			tags:  []string{"storyreel", "review"},
		}
	case EventError:
		body := "Error"
		if label := field(payload, "context"); label != "" {
			body = fmt.Sprintf("%s with %s", body, label)
		}
		detail := field(payload, "error")
		if detail == "" {
			detail = "unknown"
		}
		return message{
			title:    "StoryReel - Error",
			body:     fmt.Sprintf("%s: %s", body, detail),
			tags:     []string{"storyreel", "error", "alert"},
			priority: "high",
		}
	case EventTest:
		return message{
			title:    "StoryReel - Test",
			body:     "Notification system test",
			tags:     []string{"storyreel", "test"},
			priority: "low",
		}
	default:
		return message{}
	}
}

func field(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
