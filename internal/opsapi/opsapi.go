// Package opsapi is the minimal operational HTTP surface mentioned by
// SPEC_FULL.md's C7: health and stats endpoints only, grounded on the
// teacher's internal/presentation.API (same gorilla/mux router +
// middleware shape) but deliberately not a dashboard — the
// HTTP/UI dashboard is explicitly out of scope (spec.md §1).
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
	"github.com/caiatech/crawlcore/pkg/logging"
)

// API serves /healthz and /stats over the queue, registry, and
// persistence adapter it is given.
type API struct {
	queue    *queue.Queue
	registry *registry.Registry
	store    persistence.Store
}

// New builds an API bound to the given components.
func New(q *queue.Queue, reg *registry.Registry, store persistence.Store) *API {
	return &API{queue: q, registry: reg, store: store}
}

// Router builds the mux.Router serving this API's endpoints.
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	router.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	return a.withLogging(router)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}
	if a.store != nil {
		if err := a.store.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
	}

	writeJSON(w, status, body)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":    a.queue.Stats(),
		"registry": a.registry.Stats(),
	})
}

func (a *API) withLogging(handler http.Handler) http.Handler {
	log := logging.GetLogger("opsapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handler.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("request handled")
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
