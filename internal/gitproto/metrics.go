package gitproto

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "smartgit"
	metricsSubsystem = "http"
)

type httpMetrics struct {
	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	operationOutcome *prometheus.CounterVec
}

var (
	defaultHTTPMetricsOnce sync.Once
	defaultHTTPMetricsInst *httpMetrics
)

// getDefaultHTTPMetrics returns the process-wide singleton registered against
// prometheus.DefaultRegisterer. Every Server constructed without a custom
// Options.Metrics shares it, avoiding a MustRegister panic on the second call
// to New in the same process (as happens across a test binary's subtests).
func getDefaultHTTPMetrics() *httpMetrics {
	defaultHTTPMetricsOnce.Do(func() {
		defaultHTTPMetricsInst = newHTTPMetrics(prometheus.DefaultRegisterer)
	})
	return defaultHTTPMetricsInst
}

// metricsForRegisterer returns the default singleton when reg is the global
// default registerer, and a freshly registered instance otherwise.
func metricsForRegisterer(reg prometheus.Registerer) *httpMetrics {
	if reg == prometheus.DefaultRegisterer {
		return getDefaultHTTPMetrics()
	}
	return newHTTPMetrics(reg)
}

// gathererForRegisterer returns reg itself when it also implements
// prometheus.Gatherer (as *prometheus.Registry does), falling back to the
// global default gatherer otherwise.
func gathererForRegisterer(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status_class"}),
		operationOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Total number of Git operations by outcome.",
		}, []string{"type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestTotal, m.requestDuration, m.operationOutcome)
	}
	return m
}

func (m *httpMetrics) observe(method, route string, status int, d time.Duration) {
	class := statusClass(status)
	m.requestTotal.WithLabelValues(method, route, class).Inc()
	m.requestDuration.WithLabelValues(method, route, class).Observe(d.Seconds())
}

func (m *httpMetrics) recordOperation(op OperationType, outcome string) {
	m.operationOutcome.WithLabelValues(string(op), outcome).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return strconv.Itoa(code)
	}
}
