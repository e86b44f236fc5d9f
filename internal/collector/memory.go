package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hostmetrics-agent/internal/config"
	"hostmetrics-agent/internal/model"
	"hostmetrics-agent/internal/system"
)

const MemoryName = "memory"

func init() {
	Register(MemoryName, NewMemoryCollector)
}

type MemoryCollector struct {
	hostname string
	sampler  system.MemorySampler
	logger   *slog.Logger
	now      func() time.Time
}

func NewMemoryCollector(deps Deps, _ config.CollectorConfig) (Collector, error) {
	if deps.Source == nil {
		return nil, errors.New("memory collector requires a sample source")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCollector{
		hostname: deps.Hostname,
		sampler:  deps.Source,
		logger:   logger.With("collector", MemoryName),
		now:      now,
	}, nil
}

func (c *MemoryCollector) Name() string { return MemoryName }

func (c *MemoryCollector) Collect(ctx context.Context) (rec model.Record) {
	rec = model.NewRecord(c.now(), c.hostname)
	defer recoverPartial(c.logger, MemoryName)

	if vm, err := c.sampler.VirtualMemory(ctx); sampleOK(c.logger, err, "virtual memory") {
		used := min(vm.Used, vm.Total)
		available := min(vm.Available, vm.Total)
		rec["memory_total"] = float64(vm.Total)
		rec["memory_used"] = float64(used)
		rec["memory_free"] = float64(vm.Free)
		rec["memory_available"] = float64(available)
		rec["memory_usage_percent"] = system.ClampPercent(vm.UsedPercent)
		rec["memory_cached"] = float64(vm.Cached)
		rec["memory_buffers"] = float64(vm.Buffers)
	}

	if sw, err := c.sampler.SwapMemory(ctx); sampleOK(c.logger, err, "swap memory") {
		rec["swap_total"] = float64(sw.Total)
		rec["swap_used"] = float64(min(sw.Used, sw.Total))
		rec["swap_free"] = float64(sw.Free)
		rec["swap_usage_percent"] = system.ClampPercent(sw.UsedPercent)
	}
	return rec
}
