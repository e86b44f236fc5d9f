package system

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned for counters the platform or backend does not expose.
var ErrUnsupported = errors.New("not supported on this platform")

// CPUTimes holds the share of CPU time per state, in percent, since the previous read.
type CPUTimes struct {
	User   float64
	System float64
	Idle   float64
	IOWait float64
}

type LoadAverage struct {
	Load1  float64
	Load5  float64
	Load15 float64
}

type VirtualMemory struct {
	Total       uint64
	Used        uint64
	Free        uint64
	Available   uint64
	UsedPercent float64
	Cached      uint64
	Buffers     uint64
}

type SwapMemory struct {
	Total       uint64
	Used        uint64
	Free        uint64
	UsedPercent float64
}

type CPUSampler interface {
	// CPUPercent blocks for window and returns overall utilisation.
	// A zero window compares against the previous call.
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)
	CPUPercentPerCore(ctx context.Context) ([]float64, error)
	CPUTimes(ctx context.Context) (CPUTimes, error)
	LoadAverage(ctx context.Context) (LoadAverage, error)
}

type MemorySampler interface {
	VirtualMemory(ctx context.Context) (VirtualMemory, error)
	SwapMemory(ctx context.Context) (SwapMemory, error)
}

// Source supplies raw counters for every built-in collector.
type Source interface {
	CPUSampler
	MemorySampler
}
