package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"hostmetrics-agent/internal/config"
)

func (a *Agent) run(ctx context.Context) error {
	if a.conn != nil {
		if err := a.conn.Connect(ctx); err != nil {
			return fmt.Errorf("initial libvirt connect: %w", err)
		}
	}
	a.health.SetSourceConnected(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	if a.conn != nil {
		g.Go(func() error {
			return a.runHealthLoop(gctx)
		})
	}
	if a.cfg.Status.Enabled {
		g.Go(func() error {
			return a.runStatusServer(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(config.Seconds(a.cfg.Collectors.HealthInterval))
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.conn.Healthy(ctx); err != nil {
				a.logger.Warn("libvirt health check failed, reconnecting", "error", err)
				a.health.SetSourceConnected(false)
				if recErr := a.conn.Reconnect(ctx); recErr != nil {
					a.logger.Error("libvirt reconnect failed", "error", recErr)
					continue
				}
				a.health.SetSourceConnected(true)
				a.logHealth("recovered")
			} else {
				a.health.SetSourceConnected(true)
				a.logHealth("ok")
			}
		}
	}
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.health.Snapshot())
}

// shutdown always closes the store first so buffered records reach disk.
func (a *Agent) shutdown(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.logger.Error("final store flush failed", "error", err)
		a.health.SetFlushError(err)
	}
	if err := a.sinks.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("libvirt close failed", "error", err)
		}
	}
	a.health.SetSourceConnected(false)
}
