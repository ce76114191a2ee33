package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faultline-io/faultline-backend/internal/health"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// Server is the operational HTTP endpoint every worker binary runs alongside
// its queue loop: liveness, dependency readiness, and prometheus metrics.
type Server struct {
	addr    string
	handler http.Handler
	logg    *logger.Logger
}

// ServerParams wires the ops server.
type ServerParams struct {
	Port     string
	Checker  *health.Checker
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// NewServer builds the ops router.
func NewServer(params ServerParams) (*Server, error) {
	if params.Port == "" {
		return nil, errors.New("ops port is required")
	}
	if params.Checker == nil {
		return nil, errors.New("health checker is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Get("/healthz/live", handleLive())
	r.Get("/healthz", handleReady(params.Checker))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{addr: ":" + params.Port, handler: r, logg: params.Logger}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until the context is cancelled, then drains with a short
// shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.addr, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logg.Warn(shutdownCtx, "ops server shutdown was not clean")
		}
		return ctx.Err()
	}
}

func handleLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
	}
}

func handleReady(checker *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := checker.Check(r.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
