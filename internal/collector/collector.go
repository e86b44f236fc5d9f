package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hostmetrics-agent/internal/config"
	"hostmetrics-agent/internal/model"
	"hostmetrics-agent/internal/system"
)

// Collector produces one partial record per call. Collect never fails:
// counters that cannot be read are left out of the record, which always
// carries timestamp and hostname.
type Collector interface {
	Name() string
	Collect(ctx context.Context) model.Record
}

// Deps are the shared collaborators handed to every collector constructor.
type Deps struct {
	Hostname string
	Source   system.Source
	Logger   *slog.Logger
	Now      func() time.Time
}

type Factory func(deps Deps, cfg config.CollectorConfig) (Collector, error)

// Entry is a constructed collector with the interval it should run at.
type Entry struct {
	Collector Collector
	Interval  time.Duration
}

type registry struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]Factory
}

var defaultRegistry = &registry{factories: map[string]Factory{}}

// Register adds a named constructor. Registration order is merge order.
func Register(name string, f Factory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, exists := defaultRegistry.factories[name]; !exists {
		defaultRegistry.order = append(defaultRegistry.order, name)
	}
	defaultRegistry.factories[name] = f
}

func Registered() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	return append([]string(nil), defaultRegistry.order...)
}

// Build constructs every enabled collector in registration order. Config
// sections naming an unregistered collector are an error.
func Build(items map[string]config.CollectorConfig, fallbackInterval time.Duration, deps Deps) ([]Entry, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()

	for name := range items {
		if _, ok := defaultRegistry.factories[name]; !ok {
			return nil, fmt.Errorf("unknown collector %q", name)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	entries := make([]Entry, 0, len(items))
	for _, name := range defaultRegistry.order {
		item, ok := items[name]
		if !ok || !item.Enabled {
			continue
		}
		c, err := defaultRegistry.factories[name](deps, item)
		if err != nil {
			return nil, fmt.Errorf("build collector %s: %w", name, err)
		}
		interval := config.Seconds(item.Interval)
		if interval <= 0 {
			interval = fallbackInterval
		}
		entries = append(entries, Entry{Collector: c, Interval: interval})
	}
	return entries, nil
}
