package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenstream/livehost/internal/brain"
	"github.com/lumenstream/livehost/internal/metrics"
	"github.com/lumenstream/livehost/internal/observe"
	"github.com/lumenstream/livehost/internal/state"
)

// statsResponse is the /stats payload: live counters plus the brain's and
// the state machine's own views.
type statsResponse struct {
	SessionID string                `json:"session_id"`
	Realtime  metrics.RealtimeStats `json:"realtime"`
	Brain     brain.Stats           `json:"brain"`
	State     state.Stats           `json:"state"`

	QueueDepth int   `json:"queue_depth"`
	Processed  int64 `json:"processed"`
	Speaks     int64 `json:"speaks"`
	Skips      int64 `json:"skips"`
	Waits      int64 `json:"waits"`
	Queued     int64 `json:"queued"`
	Dropped    int64 `json:"dropped"`
	Malformed  int64 `json:"malformed"`
}

// serveAdmin runs the admin HTTP listener until ctx is cancelled. It exposes
// liveness, readiness, the Prometheus scrape endpoint, and realtime stats.
func (o *Orchestrator) serveAdmin(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", o.handleHealthz)
	mux.HandleFunc("GET /readyz", o.handleReadyz)
	mux.HandleFunc("GET /stats", o.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              o.cfg.Server.AdminAddr,
		Handler:           observe.Middleware(o.obs)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (o *Orchestrator) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the orchestrator's optional backends are
// reachable. The bus is not probed here: a dropped broker connection is
// already being retried by the consumer, and readiness should not flap with
// it.
func (o *Orchestrator) handleReadyz(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{"core": "ok"}
	status := http.StatusOK

	if o.store != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := o.store.Ping(pingCtx); err != nil {
			components["archive"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			components["archive"] = "ok"
		}
	}

	writeJSON(w, status, components)
}

func (o *Orchestrator) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		SessionID:  o.sessionID,
		Realtime:   o.collector.RealtimeStats(),
		Brain:      o.brain.Stats(),
		State:      o.machine.Stats(),
		QueueDepth: o.pendingDepth(),
		Processed:  o.processed.Load(),
		Speaks:     o.speaks.Load(),
		Skips:      o.skips.Load(),
		Waits:      o.waits.Load(),
		Queued:     o.queued.Load(),
		Dropped:    o.dropped.Load(),
		Malformed:  o.malformed.Load(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
