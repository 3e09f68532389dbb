package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bunnybox/storefront/internal/handlers"
	"github.com/bunnybox/storefront/internal/logging"
	"github.com/bunnybox/storefront/internal/metrics"
)

func TestSetupRouter_HealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	r := setupRouter(logging.New("info", &logs), handlers.HandlerConfig{Metrics: metrics.New()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", w.Code)
	}
	if w.Header().Get(logging.RequestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("storefront_http_request_duration_seconds")) {
		t.Fatalf("metrics: unexpected response %d", w.Code)
	}
}
