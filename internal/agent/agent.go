package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hostmetrics-agent/internal/alert"
	"hostmetrics-agent/internal/collector"
	"hostmetrics-agent/internal/config"
	"hostmetrics-agent/internal/display"
	"hostmetrics-agent/internal/libvirt"
	"hostmetrics-agent/internal/model"
	"hostmetrics-agent/internal/storage"
	"hostmetrics-agent/internal/stream"
	"hostmetrics-agent/internal/system"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	hostname  string
	now       func() time.Time
	conn      *libvirt.ConnManager
	scheduler *collector.Scheduler
	evaluator *alert.Evaluator
	store     storage.Store
	sinks     *stream.Fanout
	renderer  *display.Renderer
	display   bool
	hub       *Hub
	health    *HealthStatus

	mu     sync.RWMutex
	latest model.Record
	events []model.AlertEvent
}

type Option func(*options)

type options struct {
	source system.Source
	out    io.Writer
	now    func() time.Time
}

// WithSource replaces the configured sample source.
func WithSource(src system.Source) Option {
	return func(o *options) { o.source = src }
}

// WithOutput sets where the console summary is written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Agent, error) {
	o := options{out: os.Stdout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		hostname: cfg.Agent.Hostname,
		now:      o.now,
		display:  cfg.DisplayEnabled(),
		health:   NewHealthStatus(),
	}

	source := o.source
	if source == nil {
		source = system.NewHostSource()
		if cfg.Collectors.Source == config.SourceLibvirt {
			conn, err := libvirt.NewConnManager(cfg.Collectors.LibvirtURI, config.Seconds(cfg.Collectors.ReconnectInterval), time.Second, logger)
			if err != nil {
				return nil, fmt.Errorf("libvirt: %w", err)
			}
			conn.OnStateChange(a.health.SetSourceConnected)
			a.conn = conn
			source = libvirt.NewNodeSource(conn, source, logger)
		}
	}

	entries, err := collector.Build(cfg.Collectors.Items, cfg.CollectionInterval(), collector.Deps{
		Hostname: a.hostname,
		Source:   source,
		Logger:   logger,
		Now:      o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("collectors: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no collectors enabled")
	}

	store, err := storage.NewFileStore(cfg.Storage.Path, cfg.Storage.BufferSize, logger, storage.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store

	a.hub = NewHub(logger)

	var rules []model.AlertRule
	if cfg.Alerts.Enabled {
		rules = cfg.Alerts.Rules
	}
	a.evaluator = alert.NewEvaluator(rules, logger,
		alert.WithClock(o.now),
		alert.WithMode(alert.Mode(cfg.Alerts.Mode)),
		alert.WithResolveHook(a.onResolve),
	)

	sinkCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sinks, err := stream.NewSinksFromConfig(sinkCtx, cfg, a.hostname, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sinks: %w", err)
	}
	a.sinks = sinks

	a.renderer = display.NewRenderer(o.out, cfg.Display.Cores)
	a.scheduler = collector.NewScheduler(logger, entries, a, collector.Options{
		Hostname:     a.hostname,
		Interval:     cfg.CollectionInterval(),
		ErrorBackoff: cfg.ErrorBackoff(),
		MultiRate:    cfg.Agent.MultiRate,
		Now:          o.now,
	})
	return a, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting hostmetrics-agent",
		"hostname", a.hostname,
		"source", a.cfg.Collectors.Source,
		"interval", a.cfg.CollectionInterval(),
		"outputs", a.sinks.Names(),
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	timeout := a.cfg.ShutdownTimeout()
	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", timeout)
		cancelRun()

		graceTimer := time.NewTimer(timeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", timeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("hostmetrics-agent stopped")
	return nil
}

// HandleRecord runs one merged record through storage, alerting, the
// outputs, the console and the live hub. Only a storage failure is returned;
// every later stage still runs.
func (a *Agent) HandleRecord(ctx context.Context, rec model.Record) error {
	storeErr := a.store.Write(rec.Clone())
	a.health.SetFlushError(storeErr)
	if storeErr != nil {
		a.logger.Error("store write failed, record kept in buffer", "error", storeErr)
	}

	events := a.evaluator.Check(rec)
	active := a.evaluator.ActiveAlerts()

	a.mu.Lock()
	a.latest = rec
	if len(events) > 0 {
		a.events = events
	}
	a.mu.Unlock()

	a.forward(ctx, rec, events)

	if a.display {
		a.renderer.Render(rec, active)
	}

	a.hub.Broadcast(stream.NewRecordEnvelope(rec))
	if len(events) > 0 {
		a.hub.Broadcast(stream.NewAlertEnvelope(a.hostname, events))
	}

	a.health.MarkSample(rec.Timestamp())
	a.health.SetActiveAlerts(len(active))
	return storeErr
}

func (a *Agent) forward(ctx context.Context, rec model.Record, events []model.AlertEvent) {
	if a.sinks.Len() == 0 {
		return
	}
	err := errors.Join(
		a.sinks.SendRecord(ctx, rec),
		a.sinks.SendAlerts(ctx, events),
	)
	if err != nil {
		a.logger.Warn("stream send failed", "error", err)
		a.health.SetStreamConnected(false)
		return
	}
	a.health.SetStreamConnected(true)
}

func (a *Agent) onResolve(res model.Resolution) {
	a.hub.Broadcast(model.Envelope{
		Type:          model.MessageTypeResolution,
		Hostname:      a.hostname,
		TimestampUnix: res.Timestamp,
		Payload:       res,
	})
}

// Snapshot collects one record and renders it without storing or alerting.
func (a *Agent) Snapshot(ctx context.Context) model.Record {
	rec := a.scheduler.Collect(ctx)
	a.renderer.Render(rec, nil)
	return rec
}

func (a *Agent) Latest() model.Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return nil
	}
	return a.latest.Clone()
}

func (a *Agent) LastAlertEvents() []model.AlertEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.AlertEvent(nil), a.events...)
}

func (a *Agent) Health() *HealthStatus {
	return a.health
}

func (a *Agent) Evaluator() *alert.Evaluator {
	return a.evaluator
}
