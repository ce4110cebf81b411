package alerts

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// NotificationAttempt records one delivery attempt on one channel.
type NotificationAttempt struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is one fired instance of a rule against a device.
type Alert struct {
	ID               string   `json:"id"`
	RuleID           string   `json:"ruleId"`
	RuleName         string   `json:"ruleName"`
	DeviceID         string   `json:"deviceId"`
	DeviceName       string   `json:"deviceName,omitempty"`
	Metric           string   `json:"metric"`
	Severity         Severity `json:"severity"`
	Status           Status   `json:"status"`
	Message          string   `json:"message"`
	CurrentValue     string   `json:"currentValue"`
	Threshold        float64  `json:"threshold"`
	BreachCount      int      `json:"breachCount"`
	CorrelationGroup string   `json:"correlationGroup,omitempty"`

	TriggeredAt    time.Time  `json:"triggeredAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`

	Notifications []NotificationAttempt `json:"notifications,omitempty"`
	Metadata      map[string]string     `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand outside the engine's lock.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	c.Notifications = append([]NotificationAttempt(nil), a.Notifications...)
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// renderMessage fills the rule template. Supported placeholders are
// {device}, {metric}, {value} and {threshold}; an empty template falls back
// to a standard line.
func renderMessage(rule *Rule, deviceName, metric, value string) string {
	tpl := rule.MessageTemplate
	if tpl == "" {
		return fmt.Sprintf("%s: %s %s is %s (threshold %g)",
			rule.Name, deviceName, metric, value, rule.Threshold)
	}
	r := strings.NewReplacer(
		"{device}", deviceName,
		"{metric}", metric,
		"{value}", value,
		"{threshold}", fmt.Sprintf("%g", rule.Threshold),
	)
	return r.Replace(tpl)
}

// history is a bounded ring of resolved alerts, newest kept.
type history struct {
	mu    sync.Mutex
	max   int
	items []*Alert
}

func newHistory(max int) *history {
	if max <= 0 {
		max = 1000
	}
	return &history{max: max}
}

func (h *history) add(a *Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, a)
	if len(h.items) > h.max {
		h.items = h.items[len(h.items)-h.max:]
	}
}

// list returns resolved alerts from the last `hours` hours, newest first,
// capped at limit (0 means no cap).
func (h *history) list(hours int, limit int) []*Alert {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	var out []*Alert
	for i := len(h.items) - 1; i >= 0; i-- {
		a := h.items[i]
		if hours > 0 && a.TriggeredAt.Before(cutoff) {
			continue
		}
		out = append(out, a.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
