// Package metrics exposes Prometheus collectors for the registry: SQL
// statement latency, HTTP requests and cascade notification outcomes.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Skryldev/entity-registry/cascade"
	"github.com/Skryldev/entity-registry/db"
)

const namespace = "registry"

// Metrics owns a private registry so tests and multiple servers do not share
// global collector state.
type Metrics struct {
	registry *prometheus.Registry

	queryDuration   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	cascadeOutcomes *prometheus.CounterVec
}

// New creates and registers every collector, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Latency of SQL statements by verb and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"statement", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cascadeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "notifications_total",
			Help:      "Account service notifications by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.queryDuration,
		m.httpRequests,
		m.httpDuration,
		m.cascadeOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordQuery implements db.MetricsCollector. Statements are labelled by
// their leading verb to keep cardinality bounded.
func (m *Metrics) RecordQuery(query string, d time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.queryDuration.WithLabelValues(statementVerb(query), status).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request. route is the matched route
// pattern, never the raw path.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// CascadeOutcome implements cascade.Recorder.
func (m *Metrics) CascadeOutcome(o cascade.Outcome) {
	m.cascadeOutcomes.WithLabelValues(string(o)).Inc()
}

func statementVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

var (
	_ db.MetricsCollector = (*Metrics)(nil)
	_ cascade.Recorder    = (*Metrics)(nil)
)
