package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hostmetrics-agent/internal/alert"
	"hostmetrics-agent/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"Critical", alert.LevelCritical},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildLoggerRendersCritical(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := buildLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, false)
	defer closer.Close()

	logger.Log(context.Background(), alert.LevelCritical, "disk on fire")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["level"] != "CRITICAL" || entry["msg"] != "disk on fire" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestBuildLoggerVerboseAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	logger, closer := buildLogger(&buf, config.LoggingConfig{
		Level:       "error",
		Format:      "text",
		File:        path,
		MaxSizeMB:   1,
		BackupCount: 1,
	}, true)

	logger.Debug("tick done", "records", 1)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(buf.String(), "tick done") {
		t.Fatalf("stdout missing debug line: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "level=DEBUG") {
		t.Fatalf("log file missing debug line: %q", data)
	}
}
