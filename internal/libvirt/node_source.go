package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"hostmetrics-agent/internal/system"
)

const allCPUs int32 = -1

type cpuStats struct {
	User   uint64
	Kernel uint64
	Idle   uint64
	IOWait uint64
	Total  uint64
}

func (s cpuStats) busy() uint64 {
	return system.DeltaCounter(s.Total, s.Idle+s.IOWait)
}

// nodeStats is the part of the libvirt RPC client the node source reads.
type nodeStats interface {
	NodeGetInfo() (rModel [32]int8, rMemory uint64, rCpus int32, rMhz int32, rNodes int32, rSockets int32, rCores int32, rThreads int32, err error)
	NodeGetCPUStats(CPUNum int32, Nparams int32, Flags uint32) (rParams []golibvirt.NodeGetCPUStats, rNparams int32, err error)
	NodeGetMemoryStats(Nparams int32, CellNum int32, Flags uint32) (rParams []golibvirt.NodeGetMemoryStats, rNparams int32, err error)
}

// NodeSource samples the hypervisor node over the libvirt RPC protocol.
// Counters libvirt does not expose (load average, swap) come from fallback
// when the hypervisor is local, otherwise they are reported unsupported.
type NodeSource struct {
	client   func(ctx context.Context) (nodeStats, error)
	logger   *slog.Logger
	fallback system.Source

	mu        sync.Mutex
	prevAgg   cpuStats
	hasAgg    bool
	prevCores []cpuStats
	prevTimes cpuStats
}

var (
	_ system.Source = (*NodeSource)(nil)
	_ nodeStats     = (*golibvirt.Libvirt)(nil)
)

// NewNodeSource drops fallback when conn targets a remote hypervisor, since
// this machine's counters would describe the wrong node.
func NewNodeSource(conn *ConnManager, fallback system.Source, logger *slog.Logger) *NodeSource {
	if fallback != nil && !conn.Local() {
		logger.Info("remote hypervisor, host fallback disabled", "uri", conn.target.Redacted())
		fallback = nil
	}
	return &NodeSource{
		client: func(ctx context.Context) (nodeStats, error) {
			c, err := conn.Client(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		fallback: fallback,
		logger:   logger,
	}
}

func (s *NodeSource) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	client, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	first, err := readCPUStats(client, allCPUs)
	if err != nil {
		return s.cpuFallback(ctx, window, err)
	}

	prev := first
	s.mu.Lock()
	hasPrev := s.hasAgg
	if hasPrev && window <= 0 {
		prev = s.prevAgg
	}
	s.mu.Unlock()

	cur := first
	if window > 0 || !hasPrev {
		if !sleepContext(ctx, window) {
			return 0, ctx.Err()
		}
		if cur, err = readCPUStats(client, allCPUs); err != nil {
			return s.cpuFallback(ctx, window, err)
		}
	}

	s.mu.Lock()
	s.prevAgg = cur
	s.hasAgg = true
	s.mu.Unlock()

	return usageBetween(prev, cur), nil
}

func (s *NodeSource) CPUPercentPerCore(ctx context.Context) ([]float64, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	_, _, cpus, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return nil, fmt.Errorf("NodeGetInfo: %w", err)
	}

	cur := make([]cpuStats, 0, cpus)
	for i := int32(0); i < cpus; i++ {
		st, readErr := readCPUStats(client, i)
		if readErr != nil {
			return nil, fmt.Errorf("cpu %d: %w", i, readErr)
		}
		cur = append(cur, st)
	}

	s.mu.Lock()
	prev := s.prevCores
	s.prevCores = cur
	s.mu.Unlock()

	out := make([]float64, len(cur))
	for i := range cur {
		if i < len(prev) {
			out[i] = usageBetween(prev[i], cur[i])
		}
	}
	return out, nil
}

func (s *NodeSource) CPUTimes(ctx context.Context) (system.CPUTimes, error) {
	client, err := s.client(ctx)
	if err != nil {
		return system.CPUTimes{}, err
	}
	cur, err := readCPUStats(client, allCPUs)
	if err != nil {
		if s.fallback != nil {
			s.logger.Warn("libvirt cpu times fallback to host", "error", err)
			return s.fallback.CPUTimes(ctx)
		}
		return system.CPUTimes{}, err
	}

	s.mu.Lock()
	prev := s.prevTimes
	s.prevTimes = cur
	s.mu.Unlock()

	return timesBetween(prev, cur), nil
}

func (s *NodeSource) LoadAverage(ctx context.Context) (system.LoadAverage, error) {
	if s.fallback == nil {
		return system.LoadAverage{}, system.ErrUnsupported
	}
	return s.fallback.LoadAverage(ctx)
}

func (s *NodeSource) VirtualMemory(ctx context.Context) (system.VirtualMemory, error) {
	client, err := s.client(ctx)
	if err != nil {
		return system.VirtualMemory{}, err
	}
	vm, err := readMemoryStats(client)
	if err != nil {
		if s.fallback != nil {
			s.logger.Warn("libvirt memory stats fallback to host", "error", err)
			return s.fallback.VirtualMemory(ctx)
		}
		return system.VirtualMemory{}, err
	}
	return vm, nil
}

func (s *NodeSource) SwapMemory(ctx context.Context) (system.SwapMemory, error) {
	if s.fallback == nil {
		return system.SwapMemory{}, system.ErrUnsupported
	}
	return s.fallback.SwapMemory(ctx)
}

func (s *NodeSource) cpuFallback(ctx context.Context, window time.Duration, cause error) (float64, error) {
	if s.fallback == nil {
		return 0, cause
	}
	s.logger.Warn("libvirt cpu usage fallback to host", "error", cause)
	return s.fallback.CPUPercent(ctx, window)
}

func readCPUStats(client nodeStats, cpuNum int32) (cpuStats, error) {
	_, nparams, err := client.NodeGetCPUStats(cpuNum, 0, 0)
	if err != nil {
		return cpuStats{}, fmt.Errorf("NodeGetCPUStats: %w", err)
	}
	if nparams <= 0 {
		return cpuStats{}, errors.New("empty node cpu stats")
	}
	stats, _, err := client.NodeGetCPUStats(cpuNum, nparams, 0)
	if err != nil {
		return cpuStats{}, fmt.Errorf("NodeGetCPUStats: %w", err)
	}

	var out cpuStats
	for _, st := range stats {
		switch strings.ToLower(st.Field) {
		case "user":
			out.User = st.Value
		case "kernel":
			out.Kernel = st.Value
		case "idle":
			out.Idle = st.Value
		case "iowait":
			out.IOWait = st.Value
		default:
			continue
		}
		out.Total += st.Value
	}
	if out.Total == 0 {
		return cpuStats{}, errors.New("node cpu stats are all zero")
	}
	return out, nil
}

func readMemoryStats(client nodeStats) (system.VirtualMemory, error) {
	_, nparams, err := client.NodeGetMemoryStats(0, -1, 0)
	if err != nil {
		return system.VirtualMemory{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	if nparams <= 0 {
		return system.VirtualMemory{}, errors.New("empty node memory stats")
	}
	stats, _, err := client.NodeGetMemoryStats(nparams, -1, 0)
	if err != nil {
		return system.VirtualMemory{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}

	vals := map[string]uint64{}
	for _, st := range stats {
		vals[strings.ToLower(st.Field)] = st.Value * 1024
	}
	out := system.VirtualMemory{
		Total:   vals["total"],
		Free:    vals["free"],
		Buffers: vals["buffers"],
		Cached:  vals["cached"],
	}
	if out.Total == 0 {
		return system.VirtualMemory{}, errors.New("total memory is zero")
	}
	reclaimable := out.Free + out.Buffers + out.Cached
	out.Available = min(reclaimable, out.Total)
	out.Used = out.Total - out.Available
	out.UsedPercent = system.PercentOf(out.Used, out.Total)
	return out, nil
}

func usageBetween(prev, cur cpuStats) float64 {
	totalDelta := system.DeltaCounter(cur.Total, prev.Total)
	return system.PercentDelta(cur.busy(), prev.busy(), totalDelta)
}

// timesBetween reports per-state shares of the interval; a zero-length
// interval counts as fully idle.
func timesBetween(prev, cur cpuStats) system.CPUTimes {
	totalDelta := system.DeltaCounter(cur.Total, prev.Total)
	if totalDelta == 0 {
		return system.CPUTimes{Idle: 100}
	}
	return system.CPUTimes{
		User:   system.PercentDelta(cur.User, prev.User, totalDelta),
		System: system.PercentDelta(cur.Kernel, prev.Kernel, totalDelta),
		Idle:   system.PercentDelta(cur.Idle, prev.Idle, totalDelta),
		IOWait: system.PercentDelta(cur.IOWait, prev.IOWait, totalDelta),
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
