package alert

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostmetrics-agent/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cpuRule() model.AlertRule {
	return model.AlertRule{
		Name:      "High CPU",
		Metric:    "cpu_usage_percent",
		Threshold: 80,
		Condition: model.ConditionGTE,
		Duration:  5,
		Severity:  model.SeverityWarning,
	}
}

func cpuRecord(v float64) model.Record {
	return model.Record{"timestamp": 0.0, "hostname": "h", "cpu_usage_percent": v}
}

func TestDurationDebounce(t *testing.T) {
	clock := newClock()
	var resolved []model.Resolution
	e := NewEvaluator([]model.AlertRule{cpuRule()}, discardLogger(),
		WithClock(clock.Now),
		WithResolveHook(func(r model.Resolution) { resolved = append(resolved, r) }),
	)

	// 90 at t=0, 2, 4: elapsed stays below 5s
	for i := 0; i < 3; i++ {
		if got := e.Check(cpuRecord(90)); len(got) != 0 {
			t.Fatalf("tick %d: fired early: %+v", i, got)
		}
		if diff := cmp.Diff([]string{"High CPU"}, e.ActiveAlerts()); diff != "" {
			t.Fatalf("tick %d: active mismatch (-want +got):\n%s", i, diff)
		}
		clock.Advance(2 * time.Second)
	}

	// t=6 drops to 50: state is removed on this tick
	if got := e.Check(cpuRecord(50)); len(got) != 0 {
		t.Fatalf("fired on recovery: %+v", got)
	}
	if got := e.ActiveAlerts(); len(got) != 0 {
		t.Fatalf("state not cleared: %v", got)
	}
	if len(resolved) != 1 || resolved[0].Name != "High CPU" || resolved[0].Duration != 6 {
		t.Fatalf("resolutions = %+v", resolved)
	}

	// rising again restarts the timer from zero
	clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		if got := e.Check(cpuRecord(90)); len(got) != 0 {
			t.Fatalf("restart tick %d: fired before duration: %+v", i, got)
		}
		clock.Advance(2 * time.Second)
	}
	got := e.Check(cpuRecord(91))
	want := []model.AlertEvent{{
		Name:         "High CPU",
		Metric:       "cpu_usage_percent",
		CurrentValue: 91,
		Threshold:    80,
		Condition:    model.ConditionGTE,
		Severity:     model.SeverityWarning,
		Duration:     6,
		Timestamp:    model.UnixSeconds(clock.Now()),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelModeRepeatsEveryCheck(t *testing.T) {
	clock := newClock()
	rule := cpuRule()
	rule.Duration = 0
	e := NewEvaluator([]model.AlertRule{rule}, discardLogger(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if got := e.Check(cpuRecord(85)); len(got) != 1 {
			t.Fatalf("tick %d: events = %d, want 1", i, len(got))
		}
		clock.Advance(time.Second)
	}
}

func TestEdgeModeFiresOncePerEpisode(t *testing.T) {
	clock := newClock()
	rule := cpuRule()
	rule.Duration = 0
	e := NewEvaluator([]model.AlertRule{rule}, discardLogger(), WithClock(clock.Now), WithMode(ModeEdge))

	counts := []int{}
	for _, v := range []float64{85, 90, 95, 10, 85, 85} {
		counts = append(counts, len(e.Check(cpuRecord(v))))
		clock.Advance(time.Second)
	}
	if diff := cmp.Diff([]int{1, 0, 0, 0, 1, 0}, counts); diff != "" {
		t.Errorf("event counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"High CPU"}, e.Firing()); diff != "" {
		t.Errorf("Firing() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownConditionNeverFires(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rule := cpuRule()
	rule.Condition = "~="
	rule.Duration = 0
	e := NewEvaluator([]model.AlertRule{rule}, logger)

	for _, v := range []float64{0, 80, 100, -1} {
		if got := e.Check(cpuRecord(v)); len(got) != 0 {
			t.Fatalf("value %v fired: %+v", v, got)
		}
	}
	if len(e.ActiveAlerts()) != 0 {
		t.Errorf("unknown condition left state: %v", e.ActiveAlerts())
	}
	if n := strings.Count(buf.String(), "unknown condition"); n != 4 {
		t.Errorf("warnings logged = %d, want 4", n)
	}
}

func TestAbsentAndNonNumericMetricsAreSkipped(t *testing.T) {
	clock := newClock()
	e := NewEvaluator([]model.AlertRule{cpuRule()}, discardLogger(), WithClock(clock.Now))

	e.Check(cpuRecord(95))
	clock.Advance(10 * time.Second)

	// neither an absent nor a string value changes state
	e.Check(model.Record{"timestamp": 0.0, "hostname": "h"})
	e.Check(model.Record{"cpu_usage_percent": "n/a"})
	if diff := cmp.Diff([]string{"High CPU"}, e.ActiveAlerts()); diff != "" {
		t.Fatalf("state changed on skipped ticks (-want +got):\n%s", diff)
	}

	got := e.Check(cpuRecord(95))
	if len(got) != 1 || got[0].Duration != 10 {
		t.Fatalf("events = %+v, want one event with duration 10", got)
	}
}

func TestRulesAreIndependent(t *testing.T) {
	clock := newClock()
	memRule := model.AlertRule{
		Name: "Low memory", Metric: "memory_available", Threshold: 1024,
		Condition: model.ConditionLT, Duration: 0, Severity: model.SeverityCritical,
	}
	e := NewEvaluator([]model.AlertRule{cpuRule(), memRule}, discardLogger(), WithClock(clock.Now))

	rec := model.Record{"cpu_usage_percent": 10.0, "memory_available": uint64(512)}
	got := e.Check(rec)
	if len(got) != 1 || got[0].Name != "Low memory" || got[0].Severity != model.SeverityCritical {
		t.Fatalf("events = %+v", got)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		cond model.Condition
		v    float64
		want bool
	}{
		{model.ConditionGTE, 80, true},
		{model.ConditionGT, 80, false},
		{model.ConditionLTE, 80, true},
		{model.ConditionLT, 79.9, true},
		{model.ConditionEQ, 80, true},
		{model.ConditionEQ, 80.0000001, false},
		{model.ConditionNE, 80, false},
	}
	for _, tt := range tests {
		got, err := Compare(tt.cond, tt.v, 80)
		if err != nil {
			t.Fatalf("Compare(%s) error = %v", tt.cond, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%s, %v, 80) = %v, want %v", tt.cond, tt.v, got, tt.want)
		}
	}
	if _, err := Compare("~=", 1, 1); err == nil {
		t.Error("expected error for unknown condition")
	}
}

func TestSeverityLevel(t *testing.T) {
	if SeverityLevel(model.SeverityCritical) != LevelCritical {
		t.Error("critical should map to LevelCritical")
	}
	if SeverityLevel(model.SeverityWarning) != slog.LevelWarn {
		t.Error("warning should map to warn")
	}
	if SeverityLevel("other") != slog.LevelInfo {
		t.Error("unknown severity should map to info")
	}
}
