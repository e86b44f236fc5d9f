package alert

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hostmetrics-agent/internal/model"
)

// LevelCritical sits above slog.LevelError for critical-severity alerts.
const LevelCritical = slog.Level(12)

type Mode string

const (
	// ModeLevel emits an event on every check while a rule stays breached.
	ModeLevel Mode = "level"
	// ModeEdge emits once per breach episode.
	ModeEdge Mode = "edge"
)

type state struct {
	start time.Time
	fired bool
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

func WithMode(m Mode) Option {
	return func(e *Evaluator) {
		if m == ModeEdge {
			e.mode = ModeEdge
		}
	}
}

// WithResolveHook registers fn to receive every resolution.
func WithResolveHook(fn func(model.Resolution)) Option {
	return func(e *Evaluator) {
		e.onResolve = fn
	}
}

// Evaluator turns records into alert events, debouncing each rule by its
// duration. The per-rule state lives as long as the Evaluator.
type Evaluator struct {
	logger    *slog.Logger
	rules     []model.AlertRule
	now       func() time.Time
	mode      Mode
	onResolve func(model.Resolution)

	mu    sync.Mutex
	state map[string]*state
}

func NewEvaluator(rules []model.AlertRule, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		logger: logger,
		rules:  append([]model.AlertRule(nil), rules...),
		now:    time.Now,
		mode:   ModeLevel,
		state:  make(map[string]*state),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Rules() []model.AlertRule {
	return append([]model.AlertRule(nil), e.rules...)
}

func (e *Evaluator) Mode() Mode {
	return e.mode
}

// Check evaluates every rule against rec and returns the events that fire now.
// Resolutions go to the resolve hook after the evaluator's lock is released.
func (e *Evaluator) Check(rec model.Record) []model.AlertEvent {
	events, resolved := e.check(rec)
	if e.onResolve != nil {
		for _, res := range resolved {
			e.onResolve(res)
		}
	}
	return events
}

func (e *Evaluator) check(rec model.Record) ([]model.AlertEvent, []model.Resolution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var (
		events   []model.AlertEvent
		resolved []model.Resolution
	)
	for _, rule := range e.rules {
		value, ok := rec.Float(rule.Metric)
		if !ok {
			if _, present := rec[rule.Metric]; present {
				e.logger.Debug("alert metric is not numeric, skipping", "rule", rule.Name, "metric", rule.Metric)
			}
			continue
		}

		breached, err := Compare(rule.Condition, value, rule.Threshold)
		if err != nil {
			e.logger.Warn("alert rule has unknown condition, never fires", "rule", rule.Name, "condition", rule.Condition)
		}

		st, active := e.state[rule.Name]
		if !breached {
			if active {
				resolved = append(resolved, e.resolveLocked(rule, value, st, now))
			}
			continue
		}

		if !active {
			st = &state{start: now}
			e.state[rule.Name] = st
		}
		elapsed := now.Sub(st.start).Seconds()
		if elapsed < rule.Duration {
			continue
		}
		if e.mode == ModeEdge && st.fired {
			continue
		}
		st.fired = true

		ev := model.AlertEvent{
			Name:         rule.Name,
			Metric:       rule.Metric,
			CurrentValue: value,
			Threshold:    rule.Threshold,
			Condition:    rule.Condition,
			Severity:     rule.Severity,
			Duration:     elapsed,
			Timestamp:    model.UnixSeconds(now),
		}
		e.logFiring(ev)
		events = append(events, ev)
	}
	return events, resolved
}

// ActiveAlerts returns the sorted names of rules currently in breach,
// including those still inside their duration.
func (e *Evaluator) ActiveAlerts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.state))
	for name := range e.state {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Firing returns the sorted names of rules that have met their duration.
func (e *Evaluator) Firing() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.state))
	for name, st := range e.state {
		if st.fired {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (e *Evaluator) resolveLocked(rule model.AlertRule, value float64, st *state, now time.Time) model.Resolution {
	delete(e.state, rule.Name)
	res := model.Resolution{
		Name:         rule.Name,
		Metric:       rule.Metric,
		CurrentValue: value,
		Duration:     now.Sub(st.start).Seconds(),
		Timestamp:    model.UnixSeconds(now),
	}
	e.logger.Info("alert resolved", "rule", res.Name, "metric", res.Metric, "value", res.CurrentValue, "after_seconds", res.Duration)
	return res
}

func (e *Evaluator) logFiring(ev model.AlertEvent) {
	e.logger.Log(context.Background(), SeverityLevel(ev.Severity), "alert firing",
		"rule", ev.Name,
		"severity", ev.Severity,
		"metric", ev.Metric,
		"value", ev.CurrentValue,
		"condition", ev.Condition,
		"threshold", ev.Threshold,
		"duration", ev.Duration,
	)
}

func SeverityLevel(s model.Severity) slog.Level {
	switch s {
	case model.SeverityCritical:
		return LevelCritical
	case model.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
