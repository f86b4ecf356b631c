package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	require.NotNil(t, m.Counter)
	return m.GetCounter().GetValue()
}

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg, "test")

	rec.ObserveLogin(ResultSuccess)
	rec.ObserveLogin(ResultSuccess)
	rec.ObserveLogin(ResultInvalidCredentials)
	rec.ObserveRegistration(ResultDuplicate)
	rec.ObserveRefresh(ResultExpired)
	rec.ObserveLogout()

	assert.Equal(t, 2.0, counterValue(t, rec.logins.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, counterValue(t, rec.logins.WithLabelValues(ResultInvalidCredentials)))
	assert.Equal(t, 1.0, counterValue(t, rec.registrations.WithLabelValues(ResultDuplicate)))
	assert.Equal(t, 1.0, counterValue(t, rec.refreshes.WithLabelValues(ResultExpired)))
	assert.Equal(t, 1.0, counterValue(t, rec.logouts))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	rec.ObserveLogin(ResultSuccess)
	rec.ObserveRegistration(ResultSuccess)
	rec.ObserveRefresh(ResultSuccess)
	rec.ObserveLogout()

	h := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRecorder_MiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg, "test")

	router := chi.NewRouter()
	router.Use(rec.Middleware)
	router.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", Handler(reg))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/42", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `test_http_request_duration_seconds_count{method="GET",route="/users/{id}",status="204"} 1`), body)
}
