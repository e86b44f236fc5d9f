package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostmetrics-agent/internal/config"
	"hostmetrics-agent/internal/model"
	"hostmetrics-agent/internal/storage"
	"hostmetrics-agent/internal/system"
)

type stubSource struct {
	memPercent float64
}

func (s *stubSource) CPUPercent(context.Context, time.Duration) (float64, error) { return 12.5, nil }

func (s *stubSource) CPUPercentPerCore(context.Context) ([]float64, error) {
	return []float64{10, 15}, nil
}

func (s *stubSource) CPUTimes(context.Context) (system.CPUTimes, error) {
	return system.CPUTimes{User: 8, System: 4, Idle: 88}, nil
}

func (s *stubSource) LoadAverage(context.Context) (system.LoadAverage, error) {
	return system.LoadAverage{}, system.ErrUnsupported
}

func (s *stubSource) VirtualMemory(context.Context) (system.VirtualMemory, error) {
	total := uint64(16 << 30)
	used := uint64(float64(total) * s.memPercent / 100)
	return system.VirtualMemory{
		Total:       total,
		Used:        used,
		Free:        total - used,
		Available:   total - used,
		UsedPercent: s.memPercent,
	}, nil
}

func (s *stubSource) SwapMemory(context.Context) (system.SwapMemory, error) {
	return system.SwapMemory{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir string) config.Config {
	enabled := true
	return config.Config{
		Agent: config.AgentConfig{
			Hostname:           "node-1",
			CollectionInterval: 1,
			ShutdownTimeout:    2,
			ErrorBackoff:       0.01,
		},
		Collectors: config.CollectorsConfig{
			Source: config.SourceHost,
			Items: map[string]config.CollectorConfig{
				"cpu":    {Enabled: true, Interval: 1},
				"memory": {Enabled: true, Interval: 1},
			},
		},
		Storage: config.StorageConfig{Type: "file", Path: dir, BufferSize: 1},
		Alerts: config.AlertsConfig{
			Enabled: true,
			Mode:    config.AlertModeLevel,
			Rules: []model.AlertRule{{
				Name:      "High Memory",
				Metric:    "memory_usage_percent",
				Threshold: 90,
				Condition: model.ConditionGTE,
				Duration:  0,
				Severity:  model.SeverityCritical,
			}},
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
		Display: config.DisplayConfig{Enabled: &enabled, Cores: 8},
	}
}

func newTestAgent(t *testing.T, memPercent float64) (*Agent, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(testConfig(dir), discardLogger(),
		WithSource(&stubSource{memPercent: memPercent}),
		WithOutput(&out),
		WithClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, &out, dir
}

func TestTickPersistsAlertsAndRenders(t *testing.T) {
	a, out, dir := newTestAgent(t, 95)
	ctx := context.Background()

	if err := a.scheduler.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	events := a.LastAlertEvents()
	if len(events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(events))
	}
	ev := events[0]
	if ev.Name != "High Memory" || ev.CurrentValue != 95 || ev.Severity != model.SeverityCritical {
		t.Fatalf("unexpected event %+v", ev)
	}

	path := filepath.Join(dir, "metrics-2024-03-01.jsonl")
	recs, err := storage.ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one stored record, got %d", len(recs))
	}
	if got, _ := recs[0].Float("memory_usage_percent"); got != 95 {
		t.Fatalf("stored memory_usage_percent = %v", got)
	}
	if got, _ := recs[0].Float("cpu_usage_percent"); got != 12.5 {
		t.Fatalf("stored cpu_usage_percent = %v", got)
	}

	text := out.String()
	for _, want := range []string{"System Resource Metrics", "node-1", "High Memory"} {
		if !strings.Contains(text, want) {
			t.Fatalf("console output missing %q:\n%s", want, text)
		}
	}

	snap := a.Health().Snapshot()
	if snap["active_alerts"] != int64(1) {
		t.Fatalf("active_alerts = %v", snap["active_alerts"])
	}
	if _, ok := snap["last_flush_error"]; ok {
		t.Fatalf("unexpected flush error in %v", snap)
	}
}

func TestTickBelowThresholdFiresNothing(t *testing.T) {
	a, _, _ := newTestAgent(t, 40)
	if err := a.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n := len(a.LastAlertEvents()); n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
	if diff := cmp.Diff([]string{}, a.Evaluator().ActiveAlerts()); diff != "" {
		t.Fatalf("active alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestShutdownFlushesBufferedRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Storage.BufferSize = 10
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(cfg, discardLogger(),
		WithSource(&stubSource{memPercent: 50}),
		WithOutput(io.Discard),
		WithClock(func() time.Time { return at }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := a.scheduler.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	path := filepath.Join(dir, "metrics-2024-03-01.jsonl")
	if _, err := storage.ReadJournal(path); err == nil {
		t.Fatal("records should still be buffered before shutdown")
	}

	a.shutdown(context.Background())

	recs, err := storage.ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records after shutdown, got %d", len(recs))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	a, _, dir := newTestAgent(t, 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := storage.ReadJournal(filepath.Join(dir, "metrics-2024-03-01.jsonl")); err != nil {
		t.Fatalf("expected journal after run: %v", err)
	}
}

func TestStatusRoutes(t *testing.T) {
	a, _, _ := newTestAgent(t, 95)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/latest")
	if err != nil {
		t.Fatalf("GET latest: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("latest before first tick = %d", resp.StatusCode)
	}

	a.health.SetSourceConnected(true)
	if err := a.scheduler.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var latest map[string]any
	getJSON(t, srv.URL+"/api/v1/latest", http.StatusOK, &latest)
	if latest["hostname"] != "node-1" || latest["memory_usage_percent"] != 95.0 {
		t.Fatalf("unexpected latest %v", latest)
	}

	var alerts struct {
		Mode   string   `json:"mode"`
		Active []string `json:"active"`
		Firing []string `json:"firing"`
	}
	getJSON(t, srv.URL+"/api/v1/alerts", http.StatusOK, &alerts)
	if alerts.Mode != "level" {
		t.Fatalf("mode = %q", alerts.Mode)
	}
	if diff := cmp.Diff([]string{"High Memory"}, alerts.Active); diff != "" {
		t.Fatalf("active mismatch (-want +got):\n%s", diff)
	}

	var health map[string]any
	getJSON(t, srv.URL+"/healthz", http.StatusOK, &health)
	if health["source_connected"] != true {
		t.Fatalf("unexpected health %v", health)
	}

	var ver map[string]any
	getJSON(t, srv.URL+"/api/v1/version", http.StatusOK, &ver)
	if ver["hostname"] != "node-1" || ver["agent_version"] == "" {
		t.Fatalf("unexpected version %v", ver)
	}

	resp, err = http.Post(srv.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST healthz = %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
