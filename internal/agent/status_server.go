package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hostmetrics-agent/internal/agent/version"
)

// Router exposes health, the latest record, alert state and the live feed.
func (a *Agent) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/latest", a.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/alerts", a.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/version", a.handleVersion).Methods(http.MethodGet)
	router.Handle("/ws", a.hub)
	return router
}

func (a *Agent) runStatusServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Status.Listen,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("status server shutdown failed", "error", err)
	}
	return nil
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := a.health.Snapshot()
	status := http.StatusOK
	if ok, _ := snap["source_connected"].(bool); !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

func (a *Agent) handleLatest(w http.ResponseWriter, _ *http.Request) {
	rec := a.Latest()
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record collected yet"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *Agent) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        a.evaluator.Mode(),
		"active":      a.evaluator.ActiveAlerts(),
		"firing":      a.evaluator.Firing(),
		"last_events": a.LastAlertEvents(),
		"rules":       a.evaluator.Rules(),
	})
}

func (a *Agent) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get(a.hostname))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
