package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reverie/internal/config"
)

const userAgent = "Reverie/0.1.0"

// Event identifies a notification milestone.
type Event string

const (
	EventDreamReady   Event = "dream_ready"
	EventStageFailed  Event = "stage_failed"
	EventRecovery     Event = "recovery"
	EventInsightReady Event = "insight_ready"
	EventError        Event = "error"
	EventTest         Event = "test"
)

// Payload carries event-specific values. Known keys: title, stage, reason,
// method, success, message, context, error.
type Payload map[string]any

// Service is the notification surface used by pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed notifier. A missing topic yields a no-op.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventDreamReady:   cfg.Notifications.DreamReady,
			EventStageFailed:  cfg.Notifications.StageFailures,
			EventRecovery:     cfg.Notifications.Recovery,
			EventInsightReady: cfg.Notifications.Insights,
			EventError:        cfg.Notifications.Errors,
			EventTest:         true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	title := payload.text("title")
	if title == "" {
		title = "Untitled dream"
	}
	switch event {
	case EventDreamReady:
		return message{
			title: "Reverie - Dream Ready",
			body:  fmt.Sprintf("🌙 %s is summarized", title),
			tags:  []string{"reverie", "dream", "ready"},
		}, true
	case EventStageFailed:
		body := fmt.Sprintf("⚠️ %s failed for %s", payload.text("stage"), title)
		if reason := payload.text("reason"); reason != "" {
			body += ": " + reason
		}
		return message{
			title: "Reverie - Stage Failed",
			body:  body,
			tags:  []string{"reverie", "stage", "failed"},
		}, true
	case EventRecovery:
		outcome := "recovered"
		tag := "recovered"
		if success, _ := payload["success"].(bool); !success {
			outcome = "could not be recovered"
			tag = "unrecoverable"
		}
		body := fmt.Sprintf("🛟 %s %s", title, outcome)
		if method := payload.text("method"); method != "" {
			body += " (" + method + ")"
		}
		if detail := payload.text("message"); detail != "" {
			body += ": " + detail
		}
		return message{
			title: "Reverie - Recovery",
			body:  body,
			tags:  []string{"reverie", "recovery", tag},
		}, true
	case EventInsightReady:
		return message{
			title: "Reverie - Insight Ready",
			body:  "✨ Your check-in insight is ready",
			tags:  []string{"reverie", "checkin", "insight"},
		}, true
	case EventError:
		var b strings.Builder
		b.WriteString("❌ Error")
		if label := payload.text("context"); label != "" {
			b.WriteString(" with ")
			b.WriteString(label)
		}
		b.WriteString(": ")
		if detail := payload.text("error"); detail != "" {
			b.WriteString(detail)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "Reverie - Error",
			body:     b.String(),
			tags:     []string{"reverie", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Reverie - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"reverie", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
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
