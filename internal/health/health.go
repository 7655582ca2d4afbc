// Package health provides HTTP liveness, readiness and store diagnostics
// handlers.
//
// The package exposes three endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass. Checkers run concurrently.
//   - /test: a human-oriented report on the document store backend and its
//     collections.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named health check. Check returns nil when the dependency is
// healthy.
type Checker struct {
	// Name is a short label (e.g. "store", "dataset"). It keys the JSON
	// response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Inspector describes the document store for the /test report.
type Inspector interface {
	Backend() string
	Ping(ctx context.Context) error
	Collections(ctx context.Context) ([]string, error)
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// report is the /test response body.
type report struct {
	Status      string   `json:"status"`
	Backend     string   `json:"backend"`
	Database    string   `json:"database"`
	Collections []string `json:"collections"`
	Error       string   `json:"error,omitempty"`
}

// maxCollections caps the collection list in the /test report.
const maxCollections = 10

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	inspector Inspector
	checkers  []Checker
}

// New creates a [Handler]. inspector may be nil, in which case /test reports
// the store as not configured.
func New(inspector Inspector, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{inspector: inspector, checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every [Checker] passes. All checkers run at
// once, each with a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			// Failures are reported in the body, not through the group.
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Test reports the store backend, whether it answers a ping, and up to ten of
// its collections. It always returns 200 so operators can read the report
// even when the store is down.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Database: "not configured", Collections: []string{}}
	if h.inspector == nil {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	rep.Backend = h.inspector.Backend()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	if err := h.inspector.Ping(ctx); err != nil {
		rep.Status = "fail"
		rep.Database = "unavailable"
		rep.Error = err.Error()
		writeJSON(w, http.StatusOK, rep)
		return
	}
	rep.Database = "connected"

	cols, err := h.inspector.Collections(ctx)
	if err != nil {
		rep.Status = "fail"
		rep.Error = err.Error()
		writeJSON(w, http.StatusOK, rep)
		return
	}
	if len(cols) > maxCollections {
		cols = cols[:maxCollections]
	}
	rep.Collections = append(rep.Collections, cols...)
	writeJSON(w, http.StatusOK, rep)
}

// Register adds the /healthz, /readyz and /test routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/test", h.Test)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
