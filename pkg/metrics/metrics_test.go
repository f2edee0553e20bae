package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()
	m.AlertActivated()
	m.AlertActivated()
	m.ContactNotified("enviado")
	m.ContactNotified("fallido")
	m.DeliveryDropped("websocket")
	m.SocketConnections(3)

	body := scrape(t, m)
	assert.Contains(t, body, "alertapiura_sos_alerts_activated_total 2")
	assert.Contains(t, body, `alertapiura_sos_contact_notifications_total{outcome="fallido"} 1`)
	assert.Contains(t, body, "alertapiura_realtime_socket_connections 3")
	assert.Contains(t, body, `alertapiura_realtime_deliveries_dropped_total{sink="websocket"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AlertActivated()
		m.EventPublished("stopSos")
		m.UserCacheLookup(true)
	})
}

func TestMonitorMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	r := gin.New()
	r.Use(MonitorMiddleware(m))
	r.GET("/api/sos/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sos/"+id, nil))
	}
	assert.Contains(t, scrape(t, m), `alertapiura_http_requests_total{method="GET",route="/api/sos/:id",status="200"} 2`)
}
