package operations

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

// router serves the Prometheus metrics, a liveness check and a JSON view of
// the rules.
func (o *Operator) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", o.metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n")) //nolint:errcheck
	})
	r.Get("/status", o.handleStatus)
	return r
}

func (o *Operator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses, err := Status(o.cfg)
	if err != nil {
		o.log.Error("status request failed", "error", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		o.log.Warn("write status response failed", "error", err.Error())
	}
}
