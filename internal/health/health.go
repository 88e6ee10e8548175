// Package health provides the HTTP probe endpoints of the wake-word service.
//
//   - /healthz: liveness; 200 while every liveness [Checker] passes (and
//     always 200 when none are registered).
//   - /readyz: readiness; 200 only when every readiness [Checker] passes.
//   - /status: a JSON snapshot produced by the registered status function.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single check.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. Check returns nil when the
// dependency is healthy.
type Checker struct {
	// Name is the key under which the result appears in the JSON response
	// (e.g. "pipeline", "source", "event_store").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLiveness registers checkers evaluated by /healthz.
func WithLiveness(checkers ...Checker) Option {
	return func(h *Handler) { h.liveness = append(h.liveness, checkers...) }
}

// WithStatus registers the snapshot function served on /status.
func WithStatus(fn func() any) Option {
	return func(h *Handler) { h.status = fn }
}

// Handler serves the probe endpoints. The checker lists are fixed at
// construction time.
type Handler struct {
	readiness []Checker
	liveness  []Checker
	status    func() any
}

// New creates a [Handler] that evaluates the given readiness checkers on each
// /readyz request, sequentially in the order provided.
func New(readiness []Checker, opts ...Option) *Handler {
	h := &Handler{readiness: append([]Checker(nil), readiness...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if len(h.liveness) == 0 {
		writeJSON(w, http.StatusOK, result{Status: "ok"})
		return
	}
	h.serveChecks(w, r, h.liveness)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.serveChecks(w, r, h.readiness)
}

// Status writes the current status snapshot, or 404 when no status function
// is registered.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) serveChecks(w http.ResponseWriter, r *http.Request, checkers []Checker) {
	checks := make(map[string]string, len(checkers))
	allOK := true

	for _, c := range checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe and status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
