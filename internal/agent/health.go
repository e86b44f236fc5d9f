package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	sourceConnected atomic.Bool
	streamConnected atomic.Bool
	lastSampleAt    atomic.Int64
	lastFlushError  atomic.Pointer[string]
	activeAlerts    atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetSourceConnected(ok bool) {
	h.sourceConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkSample(ts time.Time) {
	h.lastSampleAt.Store(ts.UnixNano())
}

// SetFlushError records the last storage failure; nil clears it.
func (h *HealthStatus) SetFlushError(err error) {
	if err == nil {
		h.lastFlushError.Store(nil)
		return
	}
	msg := err.Error()
	h.lastFlushError.Store(&msg)
}

func (h *HealthStatus) SetActiveAlerts(n int) {
	h.activeAlerts.Store(int64(n))
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"source_connected": h.sourceConnected.Load(),
		"stream_connected": h.streamConnected.Load(),
		"active_alerts":    h.activeAlerts.Load(),
	}
	if v := h.lastSampleAt.Load(); v > 0 {
		out["last_sample_at"] = time.Unix(0, v).UTC()
	}
	if p := h.lastFlushError.Load(); p != nil {
		out["last_flush_error"] = *p
	}
	return out
}
