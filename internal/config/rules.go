package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/rs/zerolog/log"
)

// ruleFile is the on-disk shape of the alert rules file.
type ruleFile struct {
	Rules []ruleEntry `json:"rules"`
}

type ruleEntry struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Enabled                 *bool    `json:"enabled,omitempty"`
	Severity                string   `json:"severity"`
	Operator                string   `json:"operator"`
	Threshold               float64  `json:"threshold,omitempty"`
	Match                   string   `json:"match,omitempty"`
	Sensitivity             float64  `json:"sensitivity,omitempty"`
	DeviceFilter            string   `json:"deviceFilter,omitempty"`
	Families                []string `json:"families,omitempty"`
	NameFilter              string   `json:"nameFilter,omitempty"`
	EvaluationWindowSeconds int      `json:"evaluationWindowSeconds"`
	ConsecutiveBreaches     int      `json:"consecutiveBreaches,omitempty"`
	CooldownMinutes         int      `json:"cooldownMinutes,omitempty"`
	AutoResolve             bool     `json:"autoResolve,omitempty"`
	AutoResolveMinutes      int      `json:"autoResolveMinutes,omitempty"`
	CorrelationGroup        string   `json:"correlationGroup,omitempty"`
	Channels                []string `json:"channels,omitempty"`
	MessageTemplate         string   `json:"messageTemplate,omitempty"`
}

func (e ruleEntry) toRule() alerts.Rule {
	rule := alerts.Rule{
		ID:                  e.ID,
		Name:                e.Name,
		Enabled:             true,
		Severity:            alerts.Severity(e.Severity),
		Operator:            alerts.Operator(e.Operator),
		Threshold:           e.Threshold,
		Match:               e.Match,
		Sensitivity:         e.Sensitivity,
		DeviceFilter:        e.DeviceFilter,
		NameFilter:          e.NameFilter,
		EvaluationWindow:    time.Duration(e.EvaluationWindowSeconds) * time.Second,
		ConsecutiveBreaches: e.ConsecutiveBreaches,
		CooldownMinutes:     e.CooldownMinutes,
		AutoResolve:         e.AutoResolve,
		AutoResolveMinutes:  e.AutoResolveMinutes,
		CorrelationGroup:    e.CorrelationGroup,
		Channels:            e.Channels,
		MessageTemplate:     e.MessageTemplate,
	}
	if e.Enabled != nil {
		rule.Enabled = *e.Enabled
	}
	if rule.ConsecutiveBreaches == 0 {
		rule.ConsecutiveBreaches = 1
	}
	for _, f := range e.Families {
		rule.Families = append(rule.Families, models.MetricFamily(f))
	}
	return rule
}

// LoadRules parses the alert rules file. A missing file means no rules.
func LoadRules(path string) ([]alerts.Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]alerts.Rule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		rules = append(rules, entry.toRule())
	}
	return rules, nil
}

// ApplyRules installs a rule set on the engine, removing rules that are no
// longer present in the file.
func ApplyRules(engine *alerts.Engine, rules []alerts.Rule) {
	keep := make(map[string]bool, len(rules))
	for _, rule := range rules {
		keep[rule.ID] = true
		if err := engine.AddRule(rule); err != nil {
			log.Error().Err(err).Str("rule", rule.ID).Msg("Skipping invalid alert rule")
		}
	}
	for _, existing := range engine.Rules() {
		if !keep[existing.ID] {
			engine.RemoveRule(existing.ID)
		}
	}
}

// WatchRules reloads the rules file whenever it changes on disk. It blocks
// until the context is cancelled; run it in its own goroutine. Editors that
// replace the file (rename-over) are handled by re-adding the watch on the
// parent directory.
func WatchRules(ctx context.Context, path string, engine *alerts.Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	log.Info().Str("path", path).Msg("Watching rules file for changes")

	// Debounce bursts of events from editors that write in chunks.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			rules, err := LoadRules(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Rules reload failed, keeping previous set")
				continue
			}
			ApplyRules(engine, rules)
			log.Info().Int("rules", len(rules)).Msg("Rules reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Rules watcher error")
		}
	}
}
