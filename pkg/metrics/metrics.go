package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertapiura"

// Metrics holds every collector the service exports. It owns its registry so
// tests can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	alertsActivated      prometheus.Counter
	locationSamples      prometheus.Counter
	statusChanges        *prometheus.CounterVec
	forceStops           prometheus.Counter
	notifications        *prometheus.CounterVec
	overdueAlerts        prometheus.Counter
	eventsPublished      *prometheus.CounterVec
	deliveriesDropped    *prometheus.CounterVec
	socketConnections    prometheus.Gauge
	streamSubscribers    prometheus.Gauge
	userCacheLookups     *prometheus.CounterVec
	webPushes            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		alertsActivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "alerts_activated_total",
			Help: "SOS alerts created",
		}),
		locationSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "location_samples_total",
			Help: "Location samples appended",
		}),
		statusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "status_updates_total",
			Help: "Applied status patches by field",
		}, []string{"field"}),
		forceStops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "force_stops_total",
			Help: "Alerts transitioned to finished",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "contact_notifications_total",
			Help: "Emergency contact notification attempts by outcome",
		}, []string{"outcome"}),
		overdueAlerts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sos",
			Name: "overdue_alerts_total",
			Help: "Active alerts reported past their window",
		}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime",
			Name: "events_published_total",
			Help: "Events accepted by the broadcaster",
		}, []string{"event"}),
		deliveriesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime",
			Name: "deliveries_dropped_total",
			Help: "Events dropped because a queue or session was full",
		}, []string{"sink"}),
		socketConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime",
			Name: "socket_connections",
			Help: "Open websocket sessions",
		}),
		streamSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime",
			Name: "stream_subscribers",
			Help: "Open server-sent event streams",
		}),
		userCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_cache_lookups_total",
			Help:      "User summary cache lookups by result",
		}, []string{"result"}),
		webPushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_push_total",
			Help:      "Operator web push deliveries by outcome",
		}, []string{"outcome"}),
	}
}

// Registry exposes the registry for extra collectors such as the rate limiter.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The recorders below accept a nil receiver so components can run without metrics.

func (m *Metrics) AlertActivated() {
	if m != nil {
		m.alertsActivated.Inc()
	}
}

func (m *Metrics) LocationRecorded() {
	if m != nil {
		m.locationSamples.Inc()
	}
}

func (m *Metrics) StatusUpdated(field string) {
	if m != nil {
		m.statusChanges.WithLabelValues(field).Inc()
	}
}

func (m *Metrics) ForceStopped() {
	if m != nil {
		m.forceStops.Inc()
	}
}

func (m *Metrics) ContactNotified(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AlertOverdue() {
	if m != nil {
		m.overdueAlerts.Inc()
	}
}

func (m *Metrics) EventPublished(event string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) DeliveryDropped(sink string) {
	if m != nil {
		m.deliveriesDropped.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) SocketConnections(n int) {
	if m != nil {
		m.socketConnections.Set(float64(n))
	}
}

func (m *Metrics) StreamSubscribers(n int) {
	if m != nil {
		m.streamSubscribers.Set(float64(n))
	}
}

func (m *Metrics) UserCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.userCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.userCacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) WebPush(outcome string) {
	if m != nil {
		m.webPushes.WithLabelValues(outcome).Inc()
	}
}
