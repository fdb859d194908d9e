package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/pkg/application"
	"github.com/iota-uz/iota-attest/pkg/configuration"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
)

func newDefault(t *testing.T, conf *configuration.Configuration) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	app := application.New(&application.ApplicationOptions{
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	srv, err := Default(&DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	require.NoError(t, err)
	return srv.Router()
}

func baseConf() *configuration.Configuration {
	return &configuration.Configuration{
		RequestIDHeader: "X-Request-ID",
		RealIPHeader:    "X-Real-IP",
		AllowedOrigins:  "http://localhost:3000",
		RateLimit: configuration.RateLimitOptions{
			Enabled:   true,
			GlobalRPS: 1000,
			Storage:   "memory",
		},
		Prometheus: configuration.PrometheusOptions{Enabled: true, Path: "/debug/prometheus"},
	}
}

func TestDefault_HealthAndMetrics(t *testing.T) {
	h := newDefault(t, baseConf())

	for _, path := range []string{"/health/live", "/health/ready", "/debug/prometheus"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestDefault_RequestIDEchoed(t *testing.T) {
	h := newDefault(t, baseConf())

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestDefault_NotFoundIsJSON(t *testing.T) {
	h := newDefault(t, baseConf())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestDefault_RateLimited(t *testing.T) {
	conf := baseConf()
	conf.RateLimit.GlobalRPS = 1
	h := newDefault(t, conf)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, http.StatusOK, codes[0])
	require.Contains(t, codes[1:], http.StatusTooManyRequests)
}

func TestDefault_PrometheusOptional(t *testing.T) {
	conf := baseConf()
	conf.Prometheus.Enabled = false
	h := newDefault(t, conf)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/prometheus", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
