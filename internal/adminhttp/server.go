// Package adminhttp serves the health and Prometheus metrics endpoints
// shared by the scheduler and worker binaries, following the teacher's
// gorilla/mux router plus typed health-check handlers.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dagsched/internal/config"
	"dagsched/internal/dslog"
	"dagsched/internal/metrics"
)

// HealthCheck reports whether a named subsystem (the scheduler core, the
// gateway, the reactor) is currently healthy.
type HealthCheck func() error

// Server is a small HTTP server exposing /healthz, /readyz, and /metrics.
// It never touches scheduling state directly; it only renders what the
// registered HealthChecks and metrics.Registry report.
type Server struct {
	httpServer *http.Server
	logger     dslog.Logger
	startedAt  time.Time
	checks     map[string]HealthCheck
}

// New builds an admin server bound to cfg.Addr, wired to reg for /metrics.
func New(cfg config.MetricsConfig, reg *metrics.Registry, logger dslog.Logger) *Server {
	s := &Server{
		logger:    logger,
		startedAt: nowFunc(),
		checks:    make(map[string]HealthCheck),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if cfg.Enabled {
		path := cfg.Path
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, promhttp.HandlerFor(reg.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// nowFunc exists so tests can observe uptime deterministically; production
// code always uses the real clock.
var nowFunc = time.Now

// RegisterCheck adds a named health check. Checks are evaluated on every
// /readyz request.
func (s *Server) RegisterCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("admin http server did not shut down cleanly: " + err.Error())
		}
		return nil
	case err := <-errCh:
		return err
	}
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Uptime string                 `json:"uptime"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Uptime: nowFunc().Sub(s.startedAt).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult, len(s.checks))
	status := "ready"
	httpStatus := http.StatusOK

	for name, check := range s.checks {
		if err := check(); err != nil {
			checks[name] = checkResult{Status: "unhealthy", Error: err.Error()}
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = checkResult{Status: "healthy"}
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: status,
		Uptime: nowFunc().Sub(s.startedAt).String(),
		Checks: checks,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"go_version": runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
