// Package metrics implements the Prometheus exporter and liveness endpoint
// the Main Loop runs alongside the control loop.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP server for Prometheus metrics plus a /healthz
// liveness probe that reports the Main Loop's tick heartbeat.
type Server struct {
	addr   string
	path   string
	server *http.Server
	log    *slog.Logger

	lastTick atomic.Int64 // unix nanos, written by Tick.
}

// NewServer creates a new metrics server bound to addr, serving Prometheus
// collectors at path and a liveness probe at /healthz.
func NewServer(addr, path string, log *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr: addr,
		path: path,
		log:  log,
	}
}

// Tick records that the Main Loop is still alive, read back by the
// /healthz handler. Safe to call from the Main Loop's own goroutine while
// /healthz is served concurrently.
func (s *Server) Tick() {
	s.lastTick.Store(time.Now().UnixNano())
}

// healthStaleAfter bounds how long since the last recorded Tick before
// /healthz reports unhealthy; comfortably above a single slow tick
// (mainloop.slowTickThreshold) but well under a human noticing the daemon
// has wedged.
const healthStaleAfter = 5 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	last := s.lastTick.Load()
	if last == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not yet ticked")
		return
	}
	age := time.Since(time.Unix(0, last))
	if age > healthStaleAfter {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "stale: last tick %s ago\n", age)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Start starts the metrics HTTP server.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting metrics server", "addr", s.addr, "path", s.path)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	s.log.Info("metrics server stopped")
	return nil
}
