// Package metricsserver exposes the Prometheus /metrics scrape endpoint and
// a /snapshot JSON endpoint over stats.Registry.Snapshot(), the two surfaces
// spec.md §4.7 describes as consumed by the (out-of-scope) dashboard.
//
// Grounded on couchcryptid-storm-data-etl-service/internal/adapter/httpadapter/server.go's
// mux/http.Server/promhttp.Handler shape.
package metricsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nwws-relay/nwws-relay/internal/config"
	"github.com/nwws-relay/nwws-relay/internal/stats"
)

// Server exposes /metrics and /snapshot over HTTP.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds a metrics server listening on the configured dashboard
// address. It does not start listening until ListenAndServe is called.
func NewServer(cfg config.Dashboard, metrics *stats.Registry, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /snapshot", snapshotHandler(metrics))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("metrics server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func snapshotHandler(metrics *stats.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
