package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stayware/cohost-platform/internal/http/handlers"
)

func TestRouter_Health(t *testing.T) {
	r := New(&Config{Ops: handlers.NewOpsHandler(nil, nil, nil)})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	r := New(&Config{Ops: handlers.NewOpsHandler(nil, nil, nil)})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_MetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r := New(&Config{MetricsHandler: metrics})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_OpsRoutesAbsentWithoutHandlers(t *testing.T) {
	r := New(&Config{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/conversations/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
