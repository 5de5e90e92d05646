// Package metrics exposes Prometheus instruments for the HTTP layer and the
// triage pipeline. Each Collector owns its registry so tests and multiple
// servers in one process do not collide on the default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grahmeen"

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	AssessmentsTotal *prometheus.CounterVec
	SeverityScore    prometheus.Histogram
	AlertsTotal      *prometheus.CounterVec
	WSClients        prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		AssessmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "assessments_total",
			Help:      "Completed assessments by strategy and risk level.",
		}, []string{"strategy", "risk_level"}),

		SeverityScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "severity_score",
			Help:      "Distribution of detailed severity scores (0-10).",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),

		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Risk alerts by channel and delivery status.",
		}, []string{"channel", "status"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Currently connected realtime clients.",
		}),
	}
}

// ObserveHTTP records one handled request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordAssessment counts a completed assessment. A negative score means the
// strategy produced none.
func (c *Collector) RecordAssessment(strategy, riskLevel string, score float64) {
	c.AssessmentsTotal.WithLabelValues(strategy, riskLevel).Inc()
	if score >= 0 {
		c.SeverityScore.Observe(score)
	}
}

// RecordAlert counts an alert delivery attempt.
func (c *Collector) RecordAlert(channel, status string) {
	c.AlertsTotal.WithLabelValues(channel, status).Inc()
}

// ClientConnected and ClientDisconnected track realtime clients.
func (c *Collector) ClientConnected()    { c.WSClients.Inc() }
func (c *Collector) ClientDisconnected() { c.WSClients.Dec() }

// PoolStats is the subset of pgxpool.Stat exported as gauges.
type PoolStats interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
}

// RegisterPool exports connection pool gauges read at scrape time.
func (c *Collector) RegisterPool(stat func() PoolStats) {
	f := promauto.With(c.registry)
	gauge := func(name, help string, read func(PoolStats) int32) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stat())) })
	}
	gauge("total_connections", "Open database connections.", PoolStats.TotalConns)
	gauge("idle_connections", "Idle database connections.", PoolStats.IdleConns)
	gauge("acquired_connections", "Database connections in use.", PoolStats.AcquiredConns)
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
