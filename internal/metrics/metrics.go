// Package metrics — Prometheus-метрики API: сессии, рассылка событий, HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "channelhub_ws_sessions",
		Help: "Open WebSocket sessions.",
	})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channelhub_events_published_total",
		Help: "Channel events accepted by the dispatcher.",
	}, []string{"type"})

	EventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channelhub_events_delivered_total",
		Help: "Events handed to a session send buffer.",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channelhub_events_dropped_total",
		Help: "Events a session could not accept (slow or closed).",
	})

	RelayErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "channelhub_relay_errors_total",
		Help: "Failed publishes to the event relay.",
	})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channelhub_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func init() {
	prometheus.MustRegister(SessionsActive, EventsPublished, EventsDelivered, EventsDropped, RelayErrors, HTTPDuration)
}

// Handler отдаёт метрики в формате Prometheus (/metrics).
func Handler() http.Handler {
	return promhttp.Handler()
}
