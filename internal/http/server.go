// Package http provides the HTTP server hosting the HLS resource,
// health, and metrics endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/hls"
	"github.com/streamgate/streamgate/internal/http/middleware"
	"github.com/streamgate/streamgate/internal/metrics"
)

// Server hosts the streamer's HTTP surface.
type Server struct {
	cfg config.ServerConfig
	log *slog.Logger
	srv *http.Server
}

// New builds the router: the HLS resource under its mount point plus
// health, metrics, and the upstream ingest endpoints.
func New(cfg config.ServerConfig, mountPoint string, resource http.Handler,
	ingest *hls.Ingest, met *metrics.Metrics, log *slog.Logger) *Server {

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	// Playlists compress well; fragment media types are left alone.
	r.Use(chimw.Compress(5, hls.M3U8ContentType))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if met != nil {
		r.Method(http.MethodGet, "/metrics", met.Handler())
	}
	if ingest != nil {
		r.Route("/ingest", ingest.Routes)
	}
	r.Handle(mountPoint+"*", resource)

	return &Server{
		cfg: cfg,
		log: log.With(slog.String("component", "http")),
		srv: &http.Server{
			Addr:         cfg.Address(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", slog.String("addr", s.cfg.Address()))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Serve serves on a caller-provided listener, e.g. the porter handoff
// listener.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http server serving on external listener")
	if err := s.srv.Serve(ln); err != nil &&
		!errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
