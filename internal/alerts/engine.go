package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netwatch-io/netwatch/internal/models"
	"github.com/netwatch-io/netwatch/internal/storage"
	"github.com/rs/zerolog/log"
)

// PointSource is the slice of the storage engine the alert engine reads.
type PointSource interface {
	Query(ctx context.Context, filter storage.QueryFilter) []models.MetricPoint
}

// Notifier delivers one alert on one named channel. The engine records the
// returned attempt on the alert; it never retries.
type Notifier interface {
	Send(ctx context.Context, channel string, alert *Alert) NotificationAttempt
}

// Config tunes the alert engine.
type Config struct {
	EvaluationTick   time.Duration // default 30s
	BaselineInterval time.Duration // default 1h
	Sensitivity      float64       // default z-score threshold, default 2.0
	HistoryMax       int           // resolved alerts kept, default 1000
}

func (c *Config) applyDefaults() {
	if c.EvaluationTick <= 0 {
		c.EvaluationTick = 30 * time.Second
	}
	if c.BaselineInterval <= 0 {
		c.BaselineInterval = time.Hour
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = 2.0
	}
	if c.HistoryMax <= 0 {
		c.HistoryMax = 1000
	}
}

// liveKey identifies one device under one rule. The breach counter, the
// live alert and the cooldown clock are all per (rule, device).
type liveKey struct {
	ruleID   string
	deviceID string
}

// Engine evaluates rules against stored points and owns alert lifecycle.
type Engine struct {
	cfg      Config
	source   PointSource
	notifier Notifier

	mu           sync.RWMutex
	rules        map[string]*Rule
	active       map[liveKey]*Alert
	breaches     map[liveKey]int
	lastEval     map[string]time.Time
	lastNotified map[liveKey]time.Time
	history      *history

	baselineMu sync.RWMutex
	baselines  map[baselineKey]*Baseline

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine wires an engine to its point source and notifier. A nil
// notifier disables delivery but not alerting.
func NewEngine(cfg Config, source PointSource, notifier Notifier) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:          cfg,
		source:       source,
		notifier:     notifier,
		rules:        make(map[string]*Rule),
		active:       make(map[liveKey]*Alert),
		breaches:     make(map[liveKey]int),
		lastEval:     make(map[string]time.Time),
		lastNotified: make(map[liveKey]time.Time),
		history:      newHistory(cfg.HistoryMax),
		baselines:    make(map[baselineKey]*Baseline),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the evaluation and baseline loops.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
	log.Info().
		Dur("tick", e.cfg.EvaluationTick).
		Dur("baselineInterval", e.cfg.BaselineInterval).
		Msg("Alert engine started")
}

// Stop halts the loops and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	evalTicker := time.NewTicker(e.cfg.EvaluationTick)
	defer evalTicker.Stop()
	baselineTicker := time.NewTicker(e.cfg.BaselineInterval)
	defer baselineTicker.Stop()

	// Initial baselines so anomaly rules work before the first interval.
	e.RebuildBaselines(ctx)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-evalTicker.C:
			e.EvaluateOnce(ctx)
		case <-baselineTicker.C:
			e.RebuildBaselines(ctx)
		}
	}
}

// AddRule validates and installs (or replaces) a rule.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules[rule.ID] = &rule
	delete(e.lastEval, rule.ID)
	e.mu.Unlock()
	log.Info().Str("rule", rule.ID).Str("name", rule.Name).Msg("Alert rule installed")
	return nil
}

// RemoveRule drops a rule and resolves its live alerts.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.rules, ruleID)
	delete(e.lastEval, ruleID)
	for key, alert := range e.active {
		if key.ruleID != ruleID {
			continue
		}
		e.resolveLocked(key, alert, "rule_removed")
	}
	for key := range e.breaches {
		if key.ruleID == ruleID {
			delete(e.breaches, key)
		}
	}
}

// Rules returns a snapshot of installed rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EvaluateOnce runs one evaluation pass over every due rule.
func (e *Engine) EvaluateOnce(ctx context.Context) {
	now := time.Now()

	e.mu.RLock()
	due := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if last, ok := e.lastEval[rule.ID]; ok && now.Sub(last) < rule.EvaluationWindow {
			continue
		}
		due = append(due, rule)
	}
	e.mu.RUnlock()

	for _, rule := range due {
		e.mu.Lock()
		e.lastEval[rule.ID] = now
		e.mu.Unlock()
		e.evaluateRule(ctx, rule, now)
	}
}

// evaluateRule queries the rule's window, keeps the latest matching point
// per device, and advances breach counters.
func (e *Engine) evaluateRule(ctx context.Context, rule *Rule, now time.Time) {
	points := e.source.Query(ctx, storage.QueryFilter{
		Families: rule.Families,
		Start:    now.Add(-rule.EvaluationWindow),
		End:      now,
	})

	// Query returns newest first, so the first matching hit per device is
	// its latest value in the window.
	latest := make(map[liveKey]models.MetricPoint)
	for _, p := range points {
		if !rule.matchesDevice(p.DeviceID) || !rule.matchesName(p.Name) || !rule.matchesFamily(p.Family) {
			continue
		}
		key := liveKey{ruleID: rule.ID, deviceID: p.DeviceID}
		if _, seen := latest[key]; !seen {
			latest[key] = p
		}
	}

	for key, point := range latest {
		breaching, observed := e.breached(rule, point)
		if !breaching {
			e.recover(key, rule, now)
			continue
		}
		e.breach(ctx, key, rule, point, observed, now)
	}

	e.sweepAutoResolve(rule, now)
}

// breached applies the rule predicate, resolving anomaly rules against the
// current baselines.
func (e *Engine) breached(rule *Rule, point models.MetricPoint) (bool, string) {
	if rule.Operator != OpAnomaly {
		return rule.compare(point.Value), point.Value.String()
	}

	v, ok := point.Value.Numeric()
	if !ok {
		return false, point.Value.String()
	}
	e.baselineMu.RLock()
	baseline := e.baselines[baselineKey{point.DeviceID, point.Family, point.Name}]
	e.baselineMu.RUnlock()
	if baseline == nil {
		return false, point.Value.String()
	}

	sensitivity := rule.Sensitivity
	if sensitivity <= 0 {
		sensitivity = e.cfg.Sensitivity
	}
	score, anomalous := baseline.Anomalous(v, point.Timestamp, sensitivity)
	return anomalous, fmt.Sprintf("%s (z=%.2f)", point.Value.String(), score)
}

// breach advances the counter for one series and fires or refreshes the
// alert once the consecutive threshold is met.
func (e *Engine) breach(ctx context.Context, key liveKey, rule *Rule, point models.MetricPoint, observed string, now time.Time) {
	e.mu.Lock()
	e.breaches[key]++
	count := e.breaches[key]

	if count < rule.ConsecutiveBreaches {
		e.mu.Unlock()
		return
	}

	if alert, ok := e.active[key]; ok {
		alert.BreachCount = count
		alert.CurrentValue = observed
		e.mu.Unlock()
		return
	}

	alert := &Alert{
		ID:               uuid.New().String(),
		RuleID:           rule.ID,
		RuleName:         rule.Name,
		DeviceID:         point.DeviceID,
		DeviceName:       point.DeviceName,
		Metric:           point.Name,
		Severity:         rule.Severity,
		Status:           StatusActive,
		Message:          renderMessage(rule, point.DeviceName, point.Name, point.Value.String()),
		CurrentValue:     observed,
		Threshold:        rule.Threshold,
		BreachCount:      count,
		CorrelationGroup: rule.CorrelationGroup,
		TriggeredAt:      now,
		Metadata:         map[string]string{},
	}
	e.active[key] = alert

	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	lastSent, sentBefore := e.lastNotified[key]
	shouldNotify := e.notifier != nil && len(rule.Channels) > 0 &&
		(!sentBefore || cooldown <= 0 || now.Sub(lastSent) >= cooldown)
	if shouldNotify {
		e.lastNotified[key] = now
	}
	e.mu.Unlock()

	log.Warn().
		Str("alert", alert.ID).
		Str("rule", rule.ID).
		Str("device", point.DeviceID).
		Str("metric", point.Name).
		Str("severity", string(rule.Severity)).
		Str("value", observed).
		Msg("Alert triggered")

	if shouldNotify {
		e.dispatch(ctx, key, rule, alert)
	}
}

// dispatch fans the alert out to every configured channel in parallel and
// records each attempt.
func (e *Engine) dispatch(ctx context.Context, key liveKey, rule *Rule, alert *Alert) {
	snapshot := func() *Alert {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return alert.Clone()
	}()

	var wg sync.WaitGroup
	attempts := make([]NotificationAttempt, len(rule.Channels))
	for i, channel := range rule.Channels {
		wg.Add(1)
		go func(i int, channel string) {
			defer wg.Done()
			attempts[i] = e.notifier.Send(ctx, channel, snapshot)
		}(i, channel)
	}
	wg.Wait()

	e.mu.Lock()
	if live, ok := e.active[key]; ok && live.ID == alert.ID {
		live.Notifications = append(live.Notifications, attempts...)
	}
	e.mu.Unlock()

	for _, att := range attempts {
		if !att.Success {
			log.Error().
				Str("alert", alert.ID).
				Str("channel", att.Channel).
				Str("error", att.Error).
				Msg("Notification delivery failed")
		}
	}
}

// recover resets the breach counter and, for auto-resolving rules, closes
// the live alert since the series is healthy again.
func (e *Engine) recover(key liveKey, rule *Rule, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.breaches, key)
	if !rule.AutoResolve {
		return
	}
	if alert, ok := e.active[key]; ok {
		e.resolveLocked(key, alert, "recovered")
	}
}

// sweepAutoResolve closes alerts that outlived the rule's auto-resolve
// window without a fresh breach.
func (e *Engine) sweepAutoResolve(rule *Rule, now time.Time) {
	if !rule.AutoResolve || rule.AutoResolveMinutes <= 0 {
		return
	}
	maxAge := time.Duration(rule.AutoResolveMinutes) * time.Minute

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, alert := range e.active {
		if key.ruleID != rule.ID {
			continue
		}
		if now.Sub(alert.TriggeredAt) >= maxAge {
			e.resolveLocked(key, alert, "auto_resolve_timeout")
		}
	}
}

// resolveLocked finalizes an alert and moves it to history. Callers hold
// e.mu.
func (e *Engine) resolveLocked(key liveKey, alert *Alert, reason string) {
	now := time.Now()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	if alert.Metadata == nil {
		alert.Metadata = map[string]string{}
	}
	alert.Metadata["resolution_reason"] = reason

	delete(e.active, key)
	delete(e.breaches, key)
	e.history.add(alert)

	log.Info().
		Str("alert", alert.ID).
		Str("rule", alert.RuleID).
		Str("device", alert.DeviceID).
		Str("reason", reason).
		Msg("Alert resolved")
}

// Acknowledge marks an active alert as acknowledged by an operator.
func (e *Engine) Acknowledge(alertID, who string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, alert := range e.active {
		if alert.ID != alertID {
			continue
		}
		if alert.Status != StatusActive {
			return fmt.Errorf("alert %s is %s, not active", alertID, alert.Status)
		}
		now := time.Now()
		alert.Status = StatusAcknowledged
		alert.AcknowledgedAt = &now
		alert.AcknowledgedBy = who
		log.Info().Str("alert", alertID).Str("by", who).Msg("Alert acknowledged")
		return nil
	}
	return fmt.Errorf("alert %s not found among live alerts", alertID)
}

// Resolve closes a live alert by hand. Works from active or acknowledged.
func (e *Engine) Resolve(alertID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, alert := range e.active {
		if alert.ID != alertID {
			continue
		}
		e.resolveLocked(key, alert, "manual")
		return nil
	}
	return fmt.Errorf("alert %s not found among live alerts", alertID)
}

// GetActiveAlerts returns live alerts, optionally filtered to one severity,
// newest first.
func (e *Engine) GetActiveAlerts(severity ...Severity) []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Alert
	for _, alert := range e.active {
		if len(severity) > 0 {
			match := false
			for _, s := range severity {
				if alert.Severity == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, alert.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// GetActiveAlertsByGroup returns the live alerts sharing one correlation
// group, newest first, so consumers can present related alerts together.
func (e *Engine) GetActiveAlertsByGroup(group string) []*Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Alert
	for _, alert := range e.active {
		if alert.CorrelationGroup != group {
			continue
		}
		out = append(out, alert.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// GetHistory returns resolved alerts from the last `hours` hours, newest
// first, capped at limit.
func (e *Engine) GetHistory(hours, limit int) []*Alert {
	return e.history.list(hours, limit)
}

// RebuildBaselines relearns every series baseline from the lookback window
// and swaps the set in atomically.
func (e *Engine) RebuildBaselines(ctx context.Context) {
	start := time.Now()
	points := e.source.Query(ctx, storage.QueryFilter{
		Start:     start.Add(-baselineLookback),
		End:       start,
		Ascending: true,
	})

	totals := make(map[baselineKey]int)
	samples := make(map[baselineKey][]sample)
	for _, p := range points {
		key := baselineKey{p.DeviceID, p.Family, p.Name}
		totals[key]++
		if v, ok := p.Value.Numeric(); ok {
			samples[key] = append(samples[key], sample{value: v, at: p.Timestamp})
		}
	}

	next := make(map[baselineKey]*Baseline)
	for key, series := range samples {
		if totals[key] < baselineMinPoints || len(series) < baselineMinNumeric {
			continue
		}
		if b := computeBaseline(key, series); b != nil {
			next[key] = b
		}
	}

	e.baselineMu.Lock()
	e.baselines = next
	e.baselineMu.Unlock()

	log.Info().
		Int("series", len(next)).
		Int("points", len(points)).
		Dur("duration", time.Since(start)).
		Msg("Baselines rebuilt")
}

// BaselineFor exposes the current baseline for one series, or nil.
func (e *Engine) BaselineFor(deviceID string, family models.MetricFamily, name string) *Baseline {
	e.baselineMu.RLock()
	defer e.baselineMu.RUnlock()
	return e.baselines[baselineKey{deviceID, family, name}]
}
