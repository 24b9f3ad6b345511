package render

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the render pool's Prometheus collectors.
type Metrics struct {
	busy     prometheus.Gauge
	queued   prometheus.Gauge
	renders  *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the pool collectors and registers them with reg. A nil
// reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		busy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "elm_pages",
			Subsystem: "render",
			Name:      "busy_workers",
			Help:      "Number of render workers currently rendering",
		}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "elm_pages",
			Subsystem: "render",
			Name:      "queued_requests",
			Help:      "Number of render requests waiting for a worker",
		}),
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elm_pages",
			Subsystem: "render",
			Name:      "renders_total",
			Help:      "Total number of renders by result kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "elm_pages",
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Render duration including queue time",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) setBusy(n int) {
	if m == nil {
		return
	}
	m.busy.Set(float64(n))
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

func (m *Metrics) observeRender(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		kind = "none"
	}
	m.renders.WithLabelValues(kind, outcome).Inc()
	m.duration.Observe(d.Seconds())
}
