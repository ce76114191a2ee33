package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline-backend/internal/health"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
)

func newTestServer(t *testing.T, checker *health.Checker) *Server {
	t.Helper()

	registry := prometheus.NewRegistry()
	notifyMetrics := metrics.NewNotifyMetrics(registry)
	notifyMetrics.IncOutcome("sent")

	server, err := NewServer(ServerParams{
		Port:     "9090",
		Checker:  checker,
		Gatherer: registry,
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	return server
}

func newHealthChecker(t *testing.T) *health.Checker {
	t.Helper()
	checker, err := health.NewChecker(health.CheckerParams{CacheTTL: time.Second, ProbeTimeout: time.Second})
	require.NoError(t, err)
	return checker
}

func TestLivenessAlwaysOK(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newHealthChecker(t))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessReflectsProbes(t *testing.T) {
	t.Parallel()

	checker := newHealthChecker(t)
	checker.Register("postgres", health.ProbeFunc(func(ctx context.Context) error { return nil }))
	server := newTestServer(t, checker)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, "ok", report.Checks["postgres"])
}

func TestReadinessFailsWhenDependencyDown(t *testing.T) {
	t.Parallel()

	checker := newHealthChecker(t)
	checker.Register("redis", health.ProbeFunc(func(ctx context.Context) error { return fmt.Errorf("down") }))
	server := newTestServer(t, checker)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newHealthChecker(t))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "notify_outcomes")
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	logg := logger.New(logger.Options{ServiceName: "test"})
	_, err := NewServer(ServerParams{Checker: newHealthChecker(t), Logger: logg})
	assert.Error(t, err)
	_, err = NewServer(ServerParams{Port: "9090", Logger: logg})
	assert.Error(t, err)
	_, err = NewServer(ServerParams{Port: "9090", Checker: newHealthChecker(t)})
	assert.Error(t, err)
}
