package app

import (
	"context"
	"net/http"

	"pairgate/cmd/internal/api"
	"pairgate/cmd/internal/metrics"
)

// readinessCheck reports whether a dependency can serve traffic.
type readinessCheck func(ctx context.Context) error

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	ready readinessCheck,
	m *metrics.Metrics,
	handler *api.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && cfg.ExportBackend != BackendPostgres {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "export backend not ready", http.StatusServiceUnavailable)
				log.Info("readyz.backend.not_ready", "backend", cfg.ExportBackend, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", m.Handler())

	if handler != nil {
		handler.Register(mux)
	}
}
