package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"hostmetrics-agent/internal/model"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives each merged record. Records are handed over one at a time.
type Handler interface {
	HandleRecord(ctx context.Context, rec model.Record) error
}

type HandlerFunc func(ctx context.Context, rec model.Record) error

func (f HandlerFunc) HandleRecord(ctx context.Context, rec model.Record) error {
	return f(ctx, rec)
}

type Options struct {
	Hostname     string
	Interval     time.Duration
	ErrorBackoff time.Duration
	// MultiRate runs each collector on its own interval and merges their
	// latest output once per Interval.
	MultiRate bool
	Now       func() time.Time
}

type Scheduler struct {
	logger       *slog.Logger
	entries      []Entry
	handler      Handler
	hostname     string
	interval     time.Duration
	errorBackoff time.Duration
	multiRate    bool
	now          func() time.Time
	state        atomic.Int32
	buf          *mergeBuffer
}

func NewScheduler(logger *slog.Logger, entries []Entry, handler Handler, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		logger:       logger,
		entries:      entries,
		handler:      handler,
		hostname:     opts.Hostname,
		interval:     opts.Interval,
		errorBackoff: opts.ErrorBackoff,
		multiRate:    opts.MultiRate,
		now:          opts.Now,
		buf:          newMergeBuffer(len(entries)),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run drives ticks until ctx is done. It can be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("scheduler is %s", s.State())
	}
	defer s.state.Store(int32(StateStopped))

	s.logger.Info("scheduler started", "collectors", len(s.entries), "interval", s.interval, "multi_rate", s.multiRate)
	defer s.logger.Info("scheduler stopped")

	if !s.multiRate {
		return s.runLoop(ctx, s.Collect)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range s.entries {
		i, e := i, e
		g.Go(func() error {
			return s.runCollectorLoop(gctx, i, e)
		})
	}
	g.Go(func() error {
		return s.runLoop(gctx, s.collectBuffered)
	})
	return g.Wait()
}

// Collect calls every collector in order and merges the results into one record.
func (s *Scheduler) Collect(ctx context.Context) model.Record {
	rec := model.NewRecord(s.now(), s.hostname)
	owners := make(map[string]string)
	for _, e := range s.entries {
		s.merge(rec, owners, e.Collector.Name(), s.safeCollect(ctx, e.Collector))
	}
	return rec
}

// Tick runs one collect and hand-off cycle. A panic anywhere in the cycle is
// returned as an error.
func (s *Scheduler) Tick(ctx context.Context) error {
	return s.tick(ctx, s.Collect)
}

func (s *Scheduler) runLoop(ctx context.Context, collect func(context.Context) model.Record) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.tick(ctx, collect); err != nil {
		s.logger.Warn("initial tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx, collect); err != nil {
				s.logger.Error("tick failed", "error", err)
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, collect func(context.Context) model.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	rec := collect(ctx)
	if rec == nil {
		return nil
	}
	if ctx.Err() != nil {
		// cancelled mid-collect; the record may be missing fields
		return nil
	}
	if err := s.handler.HandleRecord(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Scheduler) runCollectorLoop(ctx context.Context, i int, e Entry) error {
	interval := e.Interval
	if interval <= 0 {
		interval = s.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.buf.put(i, s.safeCollect(ctx, e.Collector))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.buf.put(i, s.safeCollect(ctx, e.Collector))
		}
	}
}

// collectBuffered merges the latest contribution of every collector. It
// returns nil until at least one collector has reported.
func (s *Scheduler) collectBuffered(_ context.Context) model.Record {
	latest := s.buf.snapshot()
	rec := model.NewRecord(s.now(), s.hostname)
	owners := make(map[string]string)
	reported := false
	for i, contrib := range latest {
		if contrib == nil {
			continue
		}
		reported = true
		s.merge(rec, owners, s.entries[i].Collector.Name(), contrib)
	}
	if !reported {
		s.logger.Debug("no collector has reported yet, skipping tick")
		return nil
	}
	return rec
}

func (s *Scheduler) merge(rec model.Record, owners map[string]string, name string, contrib model.Record) {
	for _, c := range Merge(rec, owners, name, contrib) {
		s.logger.Warn("metric key collision, keeping first value", "key", c.Key, "owner", c.Owner, "collector", c.Contender)
	}
}

func (s *Scheduler) safeCollect(ctx context.Context, c Collector) (rec model.Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collector panicked", "collector", c.Name(), "panic", r)
			rec = nil
		}
	}()
	return c.Collect(ctx)
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
