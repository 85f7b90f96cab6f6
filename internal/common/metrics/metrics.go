package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can create as many as they like.
// All recording methods are safe to call on a nil *Collector.
type Collector struct {
	reg *prometheus.Registry

	Cycles           *prometheus.CounterVec // outcome label: ok|no_data|empty_feed
	TransportAttempt *prometheus.CounterVec // endpoint, outcome labels
	FailureStreak    prometheus.Gauge
	Degraded         prometheus.Gauge
	Arrivals         *prometheus.GaugeVec // direction label
	AlertActive      prometheus.Gauge
	RenderErrors     *prometheus.CounterVec // sink label

	CycleDuration prometheus.Histogram
	PollInterval  prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitboard_cycles_total",
			Help: "Polling cycles by outcome.",
		}, []string{"outcome"}),
		TransportAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitboard_transport_attempts_total",
			Help: "Feed fetch attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		FailureStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitboard_failure_streak",
			Help: "Consecutive cycles without usable trip data.",
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitboard_degraded",
			Help: "1 while the board shows the reconnecting state.",
		}),
		Arrivals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transitboard_arrivals",
			Help: "Arrivals currently shown per direction.",
		}, []string{"direction"}),
		AlertActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitboard_alert_active",
			Help: "1 if a service alert is displayed.",
		}),
		RenderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitboard_render_errors_total",
			Help: "Errors returned by display sinks.",
		}, []string{"sink"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitboard_cycle_duration_seconds",
			Help:    "Wall time of one fetch/decode/extract cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitboard_poll_interval_seconds",
			Help: "Configured normal poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Cycles, c.TransportAttempt,
		c.FailureStreak, c.Degraded,
		c.Arrivals, c.AlertActive, c.RenderErrors,
		c.CycleDuration, c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mostly for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) ObserveCycle(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
	c.CycleDuration.Observe(took.Seconds())
}

func (c *Collector) ObserveAttempt(endpoint, outcome string) {
	if c == nil {
		return
	}
	c.TransportAttempt.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collector) SetStreak(streak int, degraded bool) {
	if c == nil {
		return
	}
	c.FailureStreak.Set(float64(streak))
	if degraded {
		c.Degraded.Set(1)
	} else {
		c.Degraded.Set(0)
	}
}

func (c *Collector) SetArrivals(direction string, n int) {
	if c == nil {
		return
	}
	c.Arrivals.WithLabelValues(direction).Set(float64(n))
}

func (c *Collector) SetAlertActive(active bool) {
	if c == nil {
		return
	}
	if active {
		c.AlertActive.Set(1)
	} else {
		c.AlertActive.Set(0)
	}
}

func (c *Collector) ObserveRenderError(sink string) {
	if c == nil {
		return
	}
	c.RenderErrors.WithLabelValues(sink).Inc()
}
