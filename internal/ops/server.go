// Package ops exposes the connector's operational HTTP surface:
// Prometheus metrics and a liveness probe. Optional; enabled only when
// a listen address is configured.
package ops

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the ops router.
func Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// Start serves the ops router in the background. An empty addr disables
// the listener entirely.
func Start(addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := http.ListenAndServe(addr, Router()); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", "err", err)
		}
	}()
}
