package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"hostmetrics-agent/internal/config"
	"hostmetrics-agent/internal/model"
	"hostmetrics-agent/internal/system"
)

const (
	CPUName = "cpu"

	// cpuWindow is the blocking sample window for the first overall reading.
	cpuWindow = time.Second
)

func init() {
	Register(CPUName, NewCPUCollector)
}

type CPUCollector struct {
	hostname string
	sampler  system.CPUSampler
	logger   *slog.Logger
	now      func() time.Time
	perCore  bool
	primed   atomic.Bool
}

func NewCPUCollector(deps Deps, cfg config.CollectorConfig) (Collector, error) {
	if deps.Source == nil {
		return nil, errors.New("cpu collector requires a sample source")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUCollector{
		hostname: deps.Hostname,
		sampler:  deps.Source,
		logger:   logger.With("collector", CPUName),
		now:      now,
		perCore:  cfg.PerCore,
	}, nil
}

func (c *CPUCollector) Name() string { return CPUName }

// Collect blocks for about one second on the first call to get an accurate
// overall reading; later calls compare against the previous one.
func (c *CPUCollector) Collect(ctx context.Context) (rec model.Record) {
	rec = model.NewRecord(c.now(), c.hostname)
	defer recoverPartial(c.logger, CPUName)

	window := time.Duration(0)
	if !c.primed.Load() {
		window = cpuWindow
	}
	if usage, err := c.sampler.CPUPercent(ctx, window); c.ok(err, "cpu usage") {
		rec["cpu_usage_percent"] = usage
		c.primed.Store(true)
	}

	if c.perCore {
		if cores, err := c.sampler.CPUPercentPerCore(ctx); c.ok(err, "per-core usage") {
			rec["cpu_usage_per_core"] = cores
		}
	}

	if t, err := c.sampler.CPUTimes(ctx); c.ok(err, "cpu times") {
		rec["cpu_user_time"] = t.User
		rec["cpu_system_time"] = t.System
		rec["cpu_idle_time"] = t.Idle
		rec["cpu_iowait_time"] = t.IOWait
	}

	if load, err := c.sampler.LoadAverage(ctx); c.ok(err, "load average") {
		rec["load_average_1m"] = load.Load1
		rec["load_average_5m"] = load.Load5
		rec["load_average_15m"] = load.Load15
	}
	return rec
}

func (c *CPUCollector) ok(err error, what string) bool {
	return sampleOK(c.logger, err, what)
}

func sampleOK(logger *slog.Logger, err error, what string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, system.ErrUnsupported) {
		logger.Debug("counter unsupported, omitting", "counter", what)
		return false
	}
	logger.Warn("sample failed, omitting", "counter", what, "error", err)
	return false
}

// recoverPartial keeps a sampler panic from escaping Collect; the named
// result already holds whatever was gathered.
func recoverPartial(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("collector panicked, returning partial record", "collector", name, "panic", r)
	}
}
