package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nugget/herald-news-agent/internal/httpkit"
)

const webhookTimeout = 30 * time.Second

// webhookPayload is the JSON body POSTed to the configured URL.
type webhookPayload struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// WebhookNotifier POSTs the digest as JSON to a configured URL.
type WebhookNotifier struct {
	logger *slog.Logger
	url    string
	client *http.Client
}

// NewWebhookNotifier creates the webhook channel.
func NewWebhookNotifier(logger *slog.Logger, webhookURL string) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		logger: logger.With("component", "notify.webhook"),
		url:    webhookURL,
		client: httpkit.NewClient(httpkit.WithTimeout(webhookTimeout)),
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Send(ctx context.Context, d Digest) error {
	if n.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	at := d.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}

	body, err := json.Marshal(webhookPayload{
		Title:     d.Title,
		Content:   d.Content,
		Timestamp: at.Format(time.RFC3339),
		Source:    "herald",
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	n.logger.Debug("posting digest", "url", maskURL(n.url), "bytes", len(body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", maskURL(n.url), err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s: %s",
			resp.Status, httpkit.ReadErrorBody(resp.Body, 512))
	}
	return nil
}

// maskURL keeps the scheme and host but hides the path, which often
// carries a secret token (Slack, Discord, Feishu style webhooks).
func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return fmt.Sprintf("%s://%s/***", u.Scheme, u.Host)
}
