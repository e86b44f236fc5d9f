package system

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostSource samples the local machine through gopsutil.
type HostSource struct {
	mu        sync.Mutex
	prevTimes cpu.TimesStat
	hasPrev   bool
}

func NewHostSource() *HostSource {
	return &HostSource{}
}

func (h *HostSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) == 0 {
		return 0, errors.New("cpu percent: empty result")
	}
	return ClampPercent(pcts[0]), nil
}

func (h *HostSource) CPUPercentPerCore(ctx context.Context) ([]float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("per-core cpu percent: %w", err)
	}
	out := make([]float64, len(pcts))
	for i, p := range pcts {
		out[i] = ClampPercent(p)
	}
	return out, nil
}

// CPUTimes reports user/system/idle/iowait shares since the previous call,
// or since boot on the first call.
func (h *HostSource) CPUTimes(ctx context.Context) (CPUTimes, error) {
	stats, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUTimes{}, fmt.Errorf("cpu times: %w", err)
	}
	if len(stats) == 0 {
		return CPUTimes{}, errors.New("cpu times: empty result")
	}
	cur := stats[0]

	h.mu.Lock()
	prev := h.prevTimes
	if !h.hasPrev {
		prev = cpu.TimesStat{}
	}
	h.prevTimes = cur
	h.hasPrev = true
	h.mu.Unlock()

	return timesBetween(prev, cur), nil
}

// timesBetween splits the CPU time elapsed between two reads by state. An
// interval with no elapsed time counts as fully idle.
func timesBetween(prev, cur cpu.TimesStat) CPUTimes {
	totalDelta := deltaFloat(busyTotal(cur), busyTotal(prev))
	if totalDelta <= 0 {
		return CPUTimes{Idle: 100}
	}
	return CPUTimes{
		User:   percentDeltaFloat(cur.User, prev.User, totalDelta),
		System: percentDeltaFloat(cur.System, prev.System, totalDelta),
		Idle:   percentDeltaFloat(cur.Idle, prev.Idle, totalDelta),
		IOWait: percentDeltaFloat(cur.Iowait, prev.Iowait, totalDelta),
	}
}

func (h *HostSource) LoadAverage(ctx context.Context) (LoadAverage, error) {
	if runtime.GOOS == "windows" {
		return LoadAverage{}, ErrUnsupported
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return LoadAverage{}, fmt.Errorf("load average: %w", err)
	}
	return LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

func (h *HostSource) VirtualMemory(ctx context.Context) (VirtualMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return VirtualMemory{}, fmt.Errorf("virtual memory: %w", err)
	}
	return VirtualMemory{
		Total:       vm.Total,
		Used:        vm.Used,
		Free:        vm.Free,
		Available:   vm.Available,
		UsedPercent: ClampPercent(vm.UsedPercent),
		Cached:      vm.Cached,
		Buffers:     vm.Buffers,
	}, nil
}

func (h *HostSource) SwapMemory(ctx context.Context) (SwapMemory, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return SwapMemory{}, fmt.Errorf("swap memory: %w", err)
	}
	return SwapMemory{
		Total:       sw.Total,
		Used:        sw.Used,
		Free:        sw.Free,
		UsedPercent: ClampPercent(sw.UsedPercent),
	}, nil
}

func busyTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}
