package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rate-oracle-updater/internal/trigger"
)

const (
	healthTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// HealthChecker reports whether the blockchain node answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatusReporter exposes the trigger state.
type StatusReporter interface {
	Snapshot() trigger.Snapshot
}

// Server serves the healthcheck, status and metrics endpoints.
type Server struct {
	addr    string
	handler http.Handler
	logger  zerolog.Logger
}

// New builds the router. status may be nil.
func New(addr string, health HealthChecker, status StatusReporter, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()

	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/healthcheck", healthcheckHandler(health, l)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if status != nil {
		router.HandleFunc("/status", statusHandler(status)).Methods(http.MethodGet)
	}

	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{l}))(router)

	return &Server{addr: addr, handler: handler, logger: l}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 3 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown timed out, closing")
		_ = srv.Close()
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func healthcheckHandler(health HealthChecker, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := health.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("Healthcheck failed")
			http.Error(w, "No blockchain node connection", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type statusResponse struct {
	Pair              string `json:"pair"`
	Status            string `json:"status"`
	Committed         bool   `json:"committed"`
	LastCommittedRate string `json:"lastCommittedRate,omitempty"`
	LastCommitTime    string `json:"lastCommitTime,omitempty"`
}

func statusHandler(status StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := status.Snapshot()
		resp := statusResponse{
			Pair:      snap.Pair.String(),
			Status:    snap.Status.String(),
			Committed: snap.Committed,
		}
		if snap.Committed {
			resp.LastCommittedRate = snap.State.LastCommittedRate.String()
			resp.LastCommitTime = snap.State.LastCommitTime.UTC().Format(time.RFC3339Nano)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
