// Package admin runs the gateway's side-channel HTTP surface: health and
// metrics endpoints. It is deliberately separate from the data-plane
// listener (the raw TCP connection protocol machine in the root package) —
// it is an ordinary net/http server because it has no streaming, timeout,
// or single-writer invariants to uphold.
package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http *http.Server
	log  *zap.Logger
}

// New builds the admin server. metricsEnabled controls whether /metrics is
// registered; health is always served so orchestrators can probe liveness.
func New(addr string, metricsEnabled bool, log *zap.Logger) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return &Server{
		log: log,
		http: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
