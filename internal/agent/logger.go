package agent

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"hostmetrics-agent/internal/alert"
	"hostmetrics-agent/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildLogger builds the process logger. The returned Closer releases the
// rotated log file, if any.
func BuildLogger(cfg config.LoggingConfig, verbose bool) (*slog.Logger, io.Closer) {
	return buildLogger(os.Stdout, cfg, verbose)
}

func buildLogger(stdout io.Writer, cfg config.LoggingConfig, verbose bool) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	out := stdout
	var closer io.Closer = nopCloser{}
	var fileErr error
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			fileErr = err
		} else {
			lj := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.BackupCount,
			}
			out = io.MultiWriter(stdout, lj)
			closer = lj
		}
	}

	hOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, hOpts)
	} else {
		h = slog.NewTextHandler(out, hOpts)
	}
	logger := slog.New(h)
	if fileErr != nil {
		logger.Warn("log file disabled, logging to stdout only", "file", cfg.File, "error", fileErr)
	}
	return logger, closer
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return alert.LevelCritical
	default:
		return slog.LevelInfo
	}
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= alert.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}
