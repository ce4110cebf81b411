package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/netwatch-io/netwatch/internal/probes"
)

// webhookTimeout caps one delivery attempt.
const webhookTimeout = 10 * time.Second

func newWebhookClient() *http.Client {
	return &http.Client{
		Timeout: webhookTimeout,
		Transport: &http.Transport{
			DialContext:         probes.DialContext,
			MaxIdleConnsPerHost: 2,
		},
	}
}

// WebhookChannel POSTs the full alert as JSON to a configured URL.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	if name == "" {
		name = "webhook"
	}
	return &WebhookChannel{name: name, url: url, headers: headers, client: newWebhookClient()}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, alert *alerts.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return c.post(ctx, payload)
}

func (c *WebhookChannel) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatWebhookChannel posts a short human-readable line in the common chat
// webhook shape ({"text": "..."}), compatible with Slack-style endpoints.
type ChatWebhookChannel struct {
	inner *WebhookChannel
}

func NewChatWebhookChannel(name, url string) *ChatWebhookChannel {
	if name == "" {
		name = "chat"
	}
	return &ChatWebhookChannel{inner: NewWebhookChannel(name, url, nil)}
}

func (c *ChatWebhookChannel) Name() string { return c.inner.name }

func (c *ChatWebhookChannel) Send(ctx context.Context, alert *alerts.Alert) error {
	text := fmt.Sprintf("[%s] %s (device %s, %s = %s)",
		alert.Severity, alert.Message, alert.DeviceName, alert.Metric, alert.CurrentValue)
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return c.inner.post(ctx, payload)
}
