package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/wakeword/internal/health"
	"github.com/MrWong99/wakeword/internal/observe"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// Handler returns the HTTP surface of the app:
//
//   - /healthz, /readyz, /status: probes and the pipeline snapshot
//   - /metrics: Prometheus exposition, when a metrics handler is configured
//   - /events: WebSocket event stream, when events.websocket is enabled
//   - /events/recent: persisted events as JSON, when the store supports it
//
// Every route is wrapped by [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	readiness := []health.Checker{
		{Name: "pipeline", Check: a.checkPipeline},
		{Name: "source", Check: a.checkSource},
	}
	if a.store != nil {
		readiness = append(readiness, health.Checker{Name: "event_store", Check: a.store.Ping})
	}
	health.New(readiness,
		health.WithStatus(func() any { return a.pipe.Status() }),
	).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	if a.hub != nil {
		mux.Handle("GET /events", a.hub)
	}
	if lister, ok := a.store.(recentLister); ok {
		mux.HandleFunc("GET /events/recent", func(w http.ResponseWriter, r *http.Request) {
			a.serveRecent(w, r, lister)
		})
	}

	return observe.Middleware(a.metrics)(mux)
}

var (
	errNotRunning   = errors.New("pipeline is not running")
	errSourceExited = errors.New("audio source is not running")
)

func (a *App) checkPipeline(context.Context) error {
	if !a.pipe.Running() {
		if err := a.pipe.Err(); err != nil {
			return err
		}
		return errNotRunning
	}
	return nil
}

func (a *App) checkSource(context.Context) error {
	if !a.providers.Source.Running() {
		return errSourceExited
	}
	return nil
}

func (a *App) serveRecent(w http.ResponseWriter, r *http.Request, lister recentLister) {
	limit := defaultRecentLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRecentLimit {
			http.Error(w, "limit must be an integer in [1, 1000]", http.StatusBadRequest)
			return
		}
		limit = n
	}
	run := r.URL.Query().Get("run")
	if run == "current" {
		run = a.pipe.RunID()
	}

	events, err := lister.Recent(r.Context(), run, limit)
	if err != nil {
		observe.Logger(r.Context(), a.log).Error("list recent events", "err", err)
		http.Error(w, "event store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}
