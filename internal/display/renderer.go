package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"hostmetrics-agent/internal/model"
)

const (
	ruleWidth       = 70
	defaultMaxCores = 8

	gib = 1 << 30
	mib = 1 << 20
)

// Renderer prints a human summary of each record. Output errors are ignored.
type Renderer struct {
	mu       sync.Mutex
	out      io.Writer
	styles   styles
	maxCores int
}

func NewRenderer(out io.Writer, maxCores int) *Renderer {
	if maxCores <= 0 {
		maxCores = defaultMaxCores
	}
	return &Renderer{out: out, styles: newStyles(out), maxCores: maxCores}
}

func (r *Renderer) Render(rec model.Record, active []string) {
	var b strings.Builder
	st := r.styles
	rule := strings.Repeat("=", ruleWidth)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, st.title.Render("System Resource Metrics"))
	fmt.Fprintln(&b, rule)

	if _, ok := rec[model.KeyTimestamp]; ok {
		fmt.Fprintf(&b, "Timestamp: %s\n", rec.Timestamp().Local().Format("2006-01-02 15:04:05"))
	}
	if _, ok := rec[model.KeyHostname]; ok {
		fmt.Fprintf(&b, "Hostname:  %s\n", rec.Hostname())
	}
	fmt.Fprintln(&b)

	r.writeCPU(&b, rec)
	r.writeMemory(&b, rec)

	if len(active) > 0 {
		fmt.Fprintln(&b, st.section.Render("Active Alerts:"))
		for _, name := range active {
			fmt.Fprintf(&b, "  %s %s\n", st.critical.Render("!"), name)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, rule)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.out, b.String())
}

func (r *Renderer) writeCPU(b *strings.Builder, rec model.Record) {
	usage, ok := rec.Float("cpu_usage_percent")
	if !ok {
		return
	}
	st := r.styles
	fmt.Fprintln(b, st.section.Render("CPU Metrics:"))
	fmt.Fprintf(b, "  Usage:        %6.1f%% %s\n", usage, st.status(usage, 80, 95))

	user, okU := rec.Float("cpu_user_time")
	sys, okS := rec.Float("cpu_system_time")
	idle, okI := rec.Float("cpu_idle_time")
	if okU && okS && okI {
		fmt.Fprintf(b, "  User:         %6.1f%% | System: %6.1f%% | Idle: %6.1f%%\n", user, sys, idle)
	}

	l1, ok1 := rec.Float("load_average_1m")
	l5, ok5 := rec.Float("load_average_5m")
	l15, ok15 := rec.Float("load_average_15m")
	if ok1 && ok5 && ok15 {
		fmt.Fprintf(b, "  Load Average: %6.2f | %6.2f | %6.2f (1m, 5m, 15m)\n", l1, l5, l15)
	}

	if cores, ok := rec.Floats("cpu_usage_per_core"); ok {
		shown := cores
		if len(shown) > r.maxCores {
			shown = shown[:r.maxCores]
		}
		parts := make([]string, 0, len(shown)+1)
		for _, c := range shown {
			parts = append(parts, fmt.Sprintf("%5.1f%%", c))
		}
		if len(cores) > r.maxCores {
			parts = append(parts, "...")
		}
		fmt.Fprintf(b, "  Per-Core:     %s\n", strings.Join(parts, " | "))
	}
	fmt.Fprintln(b)
}

func (r *Renderer) writeMemory(b *strings.Builder, rec model.Record) {
	usage, ok := rec.Float("memory_usage_percent")
	if !ok {
		return
	}
	st := r.styles
	fmt.Fprintln(b, st.section.Render("Memory Metrics:"))
	fmt.Fprintf(b, "  Usage:        %6.1f%% %s\n", usage, st.status(usage, 85, 95))

	used, okU := rec.Float("memory_used")
	total, okT := rec.Float("memory_total")
	if okU && okT {
		avail, _ := rec.Float("memory_available")
		fmt.Fprintf(b, "  Used:         %6.2f GB / %6.2f GB\n", used/gib, total/gib)
		fmt.Fprintf(b, "  Available:    %6.2f GB\n", avail/gib)
	}

	cached, _ := rec.Float("memory_cached")
	buffers, _ := rec.Float("memory_buffers")
	if cached > 0 || buffers > 0 {
		fmt.Fprintf(b, "  Cached:       %6.2f GB | Buffers: %6.2f GB\n", cached/gib, buffers/gib)
	}

	if swapPct, ok := rec.Float("swap_usage_percent"); ok {
		swapUsed, _ := rec.Float("swap_used")
		swapTotal, _ := rec.Float("swap_total")
		if swapTotal > 0 {
			fmt.Fprintf(b, "  Swap:         %6.1f%% (%s MB / %s MB) %s\n",
				swapPct, groupThousands(swapUsed/mib), groupThousands(swapTotal/mib), st.status(swapPct, 50, 80))
		} else {
			fmt.Fprintln(b, "  Swap:         Not configured")
		}
	}
	fmt.Fprintln(b)
}
