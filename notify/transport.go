package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chronicle/core"
)

// Transport delivers a notification to one destination
type Transport interface {
	Send(ctx context.Context, dest core.Destination, n Notification) error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, dest core.Destination, n Notification) error

// Send calls f(ctx, dest, n)
func (f TransportFunc) Send(ctx context.Context, dest core.Destination, n Notification) error {
	return f(ctx, dest, n)
}

// ErrMissingConfig is returned when a destination lacks a required setting
var ErrMissingConfig = errors.New("destination config is incomplete")

const userAgent = "Chronicle-Alerts/1.0"

// maxErrorBody bounds how much of a failed response is kept in the error
const maxErrorBody = 512

// NewHTTPClient returns the client shared by the HTTP transports.
// Certificate verification stays enabled.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// postJSON sends payload and treats any non-2xx status as a failure
func postJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// configText renders a scalar config value as text. JSON decoding turns
// ports and chat ids into float64.
func configText(dest core.Destination, key string) string {
	if dest.Config == nil {
		return ""
	}
	switch v := dest.Config[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	}
	return ""
}

func configHeaders(dest core.Destination, key string) map[string]string {
	raw, ok := dest.Config[key].(map[string]interface{})
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// WebhookTransport posts the notification payload as JSON.
// Config: url, method (default POST), headers.
type WebhookTransport struct {
	Client *http.Client
}

// Send implements Transport
func (t *WebhookTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	url := configText(dest, "url")
	if url == "" {
		return fmt.Errorf("%w: webhook requires url", ErrMissingConfig)
	}
	method := strings.ToUpper(configText(dest, "method"))
	if method == "" {
		method = http.MethodPost
	}
	return postJSON(ctx, t.Client, method, url, configHeaders(dest, "headers"), n.Payload())
}

// SlackTransport posts to a Slack incoming webhook.
// Config: webhook_url, channel (optional override).
type SlackTransport struct {
	Client *http.Client
}

// Send implements Transport
func (t *SlackTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	url := configText(dest, "webhook_url")
	if url == "" {
		return fmt.Errorf("%w: slack requires webhook_url", ErrMissingConfig)
	}

	fields := make([]map[string]interface{}, 0)
	for _, f := range n.Fields() {
		fields = append(fields, map[string]interface{}{"title": f[0], "value": f[1], "short": len(f[1]) < 40})
	}
	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*", n.Title()),
		"attachments": []map[string]interface{}{
			{
				"color":  "#f44336",
				"fields": fields,
				"footer": "Chronicle alerts",
				"ts":     n.SentAt.Unix(),
			},
		},
	}
	if channel := configText(dest, "channel"); channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, t.Client, http.MethodPost, url, nil, payload)
}

// DiscordTransport posts to a Discord webhook. Config: webhook_url.
type DiscordTransport struct {
	Client *http.Client
}

// discordContentLimit is Discord's maximum message length
const discordContentLimit = 2000

// Send implements Transport
func (t *DiscordTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	url := configText(dest, "webhook_url")
	if url == "" {
		return fmt.Errorf("%w: discord requires webhook_url", ErrMissingConfig)
	}
	content := n.Text()
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit-3] + "..."
	}
	return postJSON(ctx, t.Client, http.MethodPost, url, nil, map[string]interface{}{
		"username": "Chronicle",
		"content":  content,
	})
}

// DefaultTelegramAPI is the Telegram Bot API base URL
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramTransport sends a bot message. Config: bot_token, chat_id.
type TelegramTransport struct {
	Client  *http.Client
	BaseURL string
}

// Send implements Transport
func (t *TelegramTransport) Send(ctx context.Context, dest core.Destination, n Notification) error {
	token := configText(dest, "bot_token")
	chatID := configText(dest, "chat_id")
	if token == "" || chatID == "" {
		return fmt.Errorf("%w: telegram requires bot_token and chat_id", ErrMissingConfig)
	}
	base := t.BaseURL
	if base == "" {
		base = DefaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), token)
	return postJSON(ctx, t.Client, http.MethodPost, url, nil, map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     n.Text(),
		"disable_web_page_preview": true,
	})
}
