package dev

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dev server's Prometheus collectors.
type Metrics struct {
	cycles     *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	clients    prometheus.Gauge
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics creates the dev server collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elm_pages",
			Subsystem: "compile",
			Name:      "cycles_total",
			Help:      "Compile cycles by outcome",
		}, []string{"outcome"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elm_pages",
			Subsystem: "reload",
			Name:      "broadcasts_total",
			Help:      "Live-reload broadcasts by token",
		}, []string{"token"}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "elm_pages",
			Subsystem: "reload",
			Name:      "clients",
			Help:      "Connected live-reload clients",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elm_pages",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "elm_pages",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) observeCycle(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeBroadcast(token string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(token).Inc()
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) observeRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}
