package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostmetrics-agent/internal/model"
)

const minimalYAML = `
agent:
  hostname: node-a
  collection_interval: 5
collectors:
  cpu:
    enabled: true
    per_core: true
  memory:
    enabled: false
    interval: 30
storage:
  path: %DIR%
alerts:
  enabled: true
  rules:
    - metric: cpu_usage_percent
      threshold: 80
logging:
  level: INFO
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "%DIR%", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Agent.Hostname != "node-a" {
		t.Errorf("hostname = %q, want node-a", cfg.Agent.Hostname)
	}
	if got := cfg.CollectionInterval(); got != 5*time.Second {
		t.Errorf("CollectionInterval() = %v, want 5s", got)
	}
	if cfg.Storage.BufferSize != 100 {
		t.Errorf("buffer_size = %d, want 100", cfg.Storage.BufferSize)
	}
	if cfg.Alerts.Mode != AlertModeLevel {
		t.Errorf("alerts.mode = %q, want level", cfg.Alerts.Mode)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q, want info", cfg.Logging.Level)
	}
	if !cfg.DisplayEnabled() {
		t.Error("display should default to enabled")
	}

	wantRules := []model.AlertRule{{
		Name:      "Alert on cpu_usage_percent",
		Metric:    "cpu_usage_percent",
		Threshold: 80,
		Condition: model.ConditionGTE,
		Duration:  0,
		Severity:  model.SeverityWarning,
	}}
	if diff := cmp.Diff(wantRules, cfg.Alerts.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	wantItems := map[string]CollectorConfig{
		"cpu":    {Enabled: true, Interval: 5, PerCore: true},
		"memory": {Enabled: false, Interval: 30},
	}
	if diff := cmp.Diff(wantItems, cfg.Collectors.Items); diff != "" {
		t.Errorf("collectors mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		wantErr string
	}{
		{name: "section", drop: "logging:\n  level: INFO\n", wantErr: "missing required config section: logging"},
		{name: "key", drop: "  collection_interval: 5\n", wantErr: "missing required config key: agent.collection_interval"},
		{name: "collector", drop: "  memory:\n    enabled: false\n    interval: 30\n", wantErr: "missing required config key: collectors.memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Replace(minimalYAML, tt.drop, "", 1)
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTMON_HOSTNAME", "from-env")
	t.Setenv("HOSTMON_COLLECTION_INTERVAL", "2s")
	t.Setenv("HOSTMON_BUFFER_SIZE", "7")
	t.Setenv("HOSTMON_LOG_LEVEL", "DEBUG")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Hostname != "from-env" {
		t.Errorf("hostname = %q, want from-env", cfg.Agent.Hostname)
	}
	if cfg.Agent.CollectionInterval != 2 {
		t.Errorf("collection_interval = %v, want 2", cfg.Agent.CollectionInterval)
	}
	if cfg.Storage.BufferSize != 7 {
		t.Errorf("buffer_size = %d, want 7", cfg.Storage.BufferSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Parse([]byte(strings.ReplaceAll(minimalYAML, "%DIR%", "data")))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "interval", mutate: func(c *Config) { c.Agent.CollectionInterval = 0 }, wantErr: "collection_interval"},
		{name: "buffer", mutate: func(c *Config) { c.Storage.BufferSize = -1 }, wantErr: "buffer_size"},
		{name: "mode", mutate: func(c *Config) { c.Alerts.Mode = "pulse" }, wantErr: "alerts.mode"},
		{name: "source", mutate: func(c *Config) { c.Collectors.Source = "snmp" }, wantErr: "collectors.source"},
		{name: "severity", mutate: func(c *Config) { c.Alerts.Rules[0].Severity = "fatal" }, wantErr: "severity"},
		{name: "negative duration", mutate: func(c *Config) { c.Alerts.Rules[0].Duration = -1 }, wantErr: "duration"},
		{name: "duplicate rule", mutate: func(c *Config) {
			c.Alerts.Rules = append(c.Alerts.Rules, c.Alerts.Rules[0])
		}, wantErr: "duplicate"},
		{name: "unknown condition tolerated", mutate: func(c *Config) { c.Alerts.Rules[0].Condition = "~=" }},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "kafka brokers", mutate: func(c *Config) { c.Outputs.Kafka.Enabled = true }, wantErr: "brokers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveHostname(t *testing.T) {
	if got := ResolveHostname("box-1"); got != "box-1" {
		t.Errorf("ResolveHostname(box-1) = %q", got)
	}
	for _, in := range []string{"", "auto", "AUTO"} {
		if got := ResolveHostname(in); got == "" || got == in {
			t.Errorf("ResolveHostname(%q) = %q, want OS hostname", in, got)
		}
	}
}
