package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okChannel struct {
	name  string
	calls int
	err   error
}

func (c *okChannel) Name() string { return c.name }
func (c *okChannel) Send(context.Context, *alerts.Alert) error {
	c.calls++
	return c.err
}

func testAlert() *alerts.Alert {
	return &alerts.Alert{
		ID:           "a1",
		RuleID:       "cpu-high",
		DeviceID:     "srv1",
		DeviceName:   "nas",
		Metric:       "cpu_usage",
		Severity:     alerts.SeverityWarning,
		Status:       alerts.StatusActive,
		Message:      "CPU high: nas cpu_usage is 95",
		CurrentValue: "95",
		Threshold:    80,
		TriggeredAt:  time.Now(),
	}
}

func TestManagerRoutesToChannel(t *testing.T) {
	m := NewManager(RateLimit{})
	ch := &okChannel{name: "chat"}
	m.Register(ch)

	att := m.Send(context.Background(), "chat", testAlert())
	assert.True(t, att.Success)
	assert.Equal(t, "chat", att.Channel)
	assert.NotEmpty(t, att.ID)
	assert.Equal(t, 1, ch.calls)
}

func TestManagerUnknownChannel(t *testing.T) {
	m := NewManager(RateLimit{})
	att := m.Send(context.Background(), "pager", testAlert())
	assert.False(t, att.Success)
	assert.Contains(t, att.Error, "not registered")
}

func TestManagerRecordsDeliveryFailure(t *testing.T) {
	m := NewManager(RateLimit{})
	m.Register(&okChannel{name: "email", err: fmt.Errorf("smtp: connection refused")})

	att := m.Send(context.Background(), "email", testAlert())
	assert.False(t, att.Success)
	assert.Contains(t, att.Error, "connection refused")
}

func TestRateLimitIsExactPerSeries(t *testing.T) {
	m := NewManager(RateLimit{MaxPerWindow: 2, Window: time.Hour})
	ch := &okChannel{name: "chat"}
	m.Register(ch)

	alert := testAlert()
	for i := 0; i < 2; i++ {
		att := m.Send(context.Background(), "chat", alert)
		require.True(t, att.Success, "send %d must pass", i+1)
	}
	att := m.Send(context.Background(), "chat", alert)
	assert.False(t, att.Success)
	assert.Equal(t, "rate limited", att.Error)
	assert.Equal(t, 2, ch.calls, "rate-limited sends never reach the channel")

	// A different series has its own budget.
	other := testAlert()
	other.RuleID = "memory-high"
	att = m.Send(context.Background(), "chat", other)
	assert.True(t, att.Success)
}

func TestRateLimitWindowIsHalfOpen(t *testing.T) {
	m := NewManager(RateLimit{MaxPerWindow: 1, Window: time.Hour})
	key := rateKey{deviceID: "srv1", ruleID: "cpu-high"}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	require.True(t, m.allowLocked(key, now.Add(-time.Hour)))
	// The previous send is exactly one window old: it no longer counts.
	assert.True(t, m.allowLocked(key, now))
	// But one inside the window does.
	assert.False(t, m.allowLocked(key, now.Add(time.Minute)))
}

func TestWebhookChannelPostsAlertJSON(t *testing.T) {
	var got alerts.Alert
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	ch := NewWebhookChannel("hook", server.URL, map[string]string{"Authorization": "Bearer tok"})
	require.NoError(t, ch.Send(context.Background(), testAlert()))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "srv1", got.DeviceID)
	assert.Equal(t, "Bearer tok", auth)
}

func TestWebhookChannelRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	ch := NewWebhookChannel("hook", server.URL, nil)
	err := ch.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestChatWebhookPayloadShape(t *testing.T) {
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer server.Close()

	ch := NewChatWebhookChannel("chat", server.URL)
	require.NoError(t, ch.Send(context.Background(), testAlert()))
	require.Contains(t, payload, "text")
	assert.Contains(t, payload["text"], "nas")
	assert.Contains(t, payload["text"], "cpu_usage")
}

func TestEmailChannel(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	ch := NewEmailChannel(EmailConfig{
		Host: "mail.local", Port: 25,
		From: "netwatch@local", To: []string{"ops@local"},
	})
	ch.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), testAlert()))
	assert.Equal(t, "mail.local:25", gotAddr)
	assert.Equal(t, "netwatch@local", gotFrom)
	assert.Equal(t, []string{"ops@local"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Subject: [WARNING]"))
	assert.True(t, strings.Contains(gotMsg, "cpu_usage"))
}

func TestEmailChannelRequiresRecipients(t *testing.T) {
	ch := NewEmailChannel(EmailConfig{Host: "mail.local", Port: 25})
	assert.Error(t, ch.Send(context.Background(), testAlert()))
}
