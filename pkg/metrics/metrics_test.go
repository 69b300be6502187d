package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_ExposesMetricsOnEngine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	p := NewPrometheus(NewPrometheusOptions{})
	p.Use(r)
	// a second instance must not panic on duplicate registration
	NewPrometheus(NewPrometheusOptions{})

	ObserveRenewal("approved")
	ObserveWebhook("PAYMENT", "processed")

	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "billing_http_req_total")
	require.Contains(t, w.Body.String(), "billing_renewal_attempts_total")
	require.Contains(t, w.Body.String(), "billing_webhook_events_total")
}
