// Package alerts maintains alert rules, evaluates them against stored
// points on a cadence, manages live alert state and baselines, and hands
// notifications to the configured channels.
package alerts

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/netwatch-io/netwatch/internal/models"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Operator is the rule predicate kind.
type Operator string

const (
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpContains Operator = "contains"
	OpRegex    Operator = "regex"
	OpAnomaly  Operator = "anomaly"
)

// Rule describes one alerting condition.
type Rule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Severity Severity `json:"severity"`

	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold,omitempty"`
	Match     string   `json:"match,omitempty"` // substring or regex for string operators
	// Sensitivity overrides the engine default z-score threshold for
	// anomaly rules; zero means use the default.
	Sensitivity float64 `json:"sensitivity,omitempty"`

	// Filters. Device and metric-name filters accept wildcards; empty
	// means any.
	DeviceFilter string                `json:"deviceFilter,omitempty"`
	Families     []models.MetricFamily `json:"families,omitempty"`
	NameFilter   string                `json:"nameFilter,omitempty"`

	EvaluationWindow    time.Duration `json:"evaluationWindow"`
	ConsecutiveBreaches int           `json:"consecutiveBreaches"`
	CooldownMinutes     int           `json:"cooldownMinutes"`
	AutoResolve         bool          `json:"autoResolve"`
	AutoResolveMinutes  int           `json:"autoResolveMinutes,omitempty"`
	CorrelationGroup    string        `json:"correlationGroup,omitempty"`
	Channels            []string      `json:"channels,omitempty"`
	MessageTemplate     string        `json:"messageTemplate,omitempty"`
}

// Validate rejects rules the engine cannot evaluate.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	switch r.Operator {
	case OpGreater, OpLess, OpEqual, OpNotEqual, OpContains, OpAnomaly:
	case OpRegex:
		if _, err := regexp.Compile(r.Match); err != nil {
			return fmt.Errorf("rule %s: invalid regex: %w", r.ID, err)
		}
	default:
		return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Operator)
	}
	if r.ConsecutiveBreaches < 1 {
		return fmt.Errorf("rule %s: consecutive breaches must be >= 1", r.ID)
	}
	if r.EvaluationWindow <= 0 {
		return fmt.Errorf("rule %s: evaluation window must be positive", r.ID)
	}
	return nil
}

// matchesDevice applies the wildcard device filter.
func (r *Rule) matchesDevice(deviceID string) bool {
	return r.DeviceFilter == "" || wildcard.Match(r.DeviceFilter, deviceID)
}

// matchesName applies the wildcard metric-name filter.
func (r *Rule) matchesName(name string) bool {
	return r.NameFilter == "" || wildcard.Match(r.NameFilter, name)
}

// matchesFamily checks the family allow-list.
func (r *Rule) matchesFamily(f models.MetricFamily) bool {
	if len(r.Families) == 0 {
		return true
	}
	for _, want := range r.Families {
		if want == f {
			return true
		}
	}
	return false
}

// compare applies a non-anomaly predicate to a point value.
func (r *Rule) compare(value models.Value) bool {
	switch r.Operator {
	case OpGreater, OpLess:
		v, ok := value.Numeric()
		if !ok {
			return false
		}
		if r.Operator == OpGreater {
			return v > r.Threshold
		}
		return v < r.Threshold
	case OpEqual, OpNotEqual:
		if v, ok := value.Numeric(); ok {
			eq := v == r.Threshold
			if r.Operator == OpEqual {
				return eq
			}
			return !eq
		}
		eq := value.String() == r.Match
		if r.Operator == OpEqual {
			return eq
		}
		return !eq
	case OpContains:
		return r.Match != "" && strings.Contains(value.String(), r.Match)
	case OpRegex:
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return false
		}
		return re.MatchString(value.String())
	}
	return false
}
