// Package metrics holds the Prometheus collectors for the pairing lifecycle.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairgate"

// Metrics groups every collector pairgate exports.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated     prometheus.Counter
	pairingOutcomes     *prometheus.CounterVec
	pairingRestarts     prometheus.Counter
	pairingCodes        *prometheus.CounterVec
	orchestratorsActive prometheus.Gauge
	sessionsReaped      prometheus.Counter
	longpollWaits       *prometheus.CounterVec
	exportWrites        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry (plus Go/process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers all collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Pairing sessions created.",
		}),
		pairingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "outcomes_total",
			Help:      "Finished pairing runs by final status.",
		}, []string{"status"}),
		pairingRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "restarts_total",
			Help:      "Reconnects after a restart-required close.",
		}),
		pairingCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "codes_total",
			Help:      "Pairing code requests by result.",
		}, []string{"result"}),
		orchestratorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pairing",
			Name:      "orchestrators_active",
			Help:      "Orchestrators currently running.",
		}),
		sessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions removed after the retention window.",
		}),
		longpollWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "longpoll",
			Name:      "waits_total",
			Help:      "Long-poll waits by outcome.",
		}, []string{"outcome"}),
		exportWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "writes_total",
			Help:      "Durable export writes by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.sessionsCreated,
		m.pairingOutcomes,
		m.pairingRestarts,
		m.pairingCodes,
		m.orchestratorsActive,
		m.sessionsReaped,
		m.longpollWaits,
		m.exportWrites,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// PairingFinished records the final status of one orchestrator run.
func (m *Metrics) PairingFinished(status string) {
	if m == nil {
		return
	}
	m.pairingOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) PairingRestarted() {
	if m == nil {
		return
	}
	m.pairingRestarts.Inc()
}

// PairingCode records a code request result ("issued" or "failed").
func (m *Metrics) PairingCode(result string) {
	if m == nil {
		return
	}
	m.pairingCodes.WithLabelValues(result).Inc()
}

func (m *Metrics) OrchestratorStarted() {
	if m == nil {
		return
	}
	m.orchestratorsActive.Inc()
}

func (m *Metrics) OrchestratorStopped() {
	if m == nil {
		return
	}
	m.orchestratorsActive.Dec()
}

func (m *Metrics) SessionsReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsReaped.Add(float64(n))
}

// LongPollWait records how a long-poll wait ended.
func (m *Metrics) LongPollWait(outcome string) {
	if m == nil {
		return
	}
	m.longpollWaits.WithLabelValues(outcome).Inc()
}

// ExportWrite records a durable export write ("ok" or "error").
func (m *Metrics) ExportWrite(result string) {
	if m == nil {
		return
	}
	m.exportWrites.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request. route is the mux pattern, never the raw path.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, route, statusLabel).Observe(d.Seconds())
}
