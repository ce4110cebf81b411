// Package notifications delivers alerts over email, webhooks and the live
// websocket stream, with per-series rate limiting.
package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Channel delivers one alert somewhere. Implementations must be safe for
// concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *alerts.Alert) error
}

// RateLimit bounds notifications per (device, rule) series over a rolling
// window. Zero MaxPerWindow disables limiting.
type RateLimit struct {
	MaxPerWindow int
	Window       time.Duration
}

// Manager routes alerts to named channels and implements alerts.Notifier.
type Manager struct {
	rate RateLimit

	mu       sync.Mutex
	channels map[string]Channel
	sent     map[rateKey][]time.Time
}

type rateKey struct {
	deviceID string
	ruleID   string
}

func NewManager(rate RateLimit) *Manager {
	if rate.Window <= 0 {
		rate.Window = time.Hour
	}
	return &Manager{
		rate:     rate,
		channels: make(map[string]Channel),
		sent:     make(map[rateKey][]time.Time),
	}
}

// Register installs a channel under its name, replacing any previous one.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
	log.Info().Str("channel", ch.Name()).Msg("Notification channel registered")
}

// Send delivers one alert on one channel, applying the rate limit. Attempts
// are never retried; the outcome is recorded on the alert by the caller.
func (m *Manager) Send(ctx context.Context, channelName string, alert *alerts.Alert) alerts.NotificationAttempt {
	attempt := alerts.NotificationAttempt{
		ID:        ulid.Make().String(),
		Channel:   channelName,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	ch, ok := m.channels[channelName]
	if !ok {
		m.mu.Unlock()
		attempt.Error = fmt.Sprintf("channel %q is not registered", channelName)
		return attempt
	}
	if !m.allowLocked(rateKey{alert.DeviceID, alert.RuleID}, attempt.Timestamp) {
		m.mu.Unlock()
		attempt.Error = "rate limited"
		return attempt
	}
	m.mu.Unlock()

	if err := ch.Send(ctx, alert); err != nil {
		attempt.Error = err.Error()
		return attempt
	}
	attempt.Success = true
	return attempt
}

// allowLocked checks and records one send against the rolling window. The
// window is half-open: sends exactly Window old no longer count.
func (m *Manager) allowLocked(key rateKey, now time.Time) bool {
	if m.rate.MaxPerWindow <= 0 {
		return true
	}

	cutoff := now.Add(-m.rate.Window)
	recent := m.sent[key][:0]
	for _, t := range m.sent[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= m.rate.MaxPerWindow {
		m.sent[key] = recent
		return false
	}
	m.sent[key] = append(recent, now)
	return true
}
