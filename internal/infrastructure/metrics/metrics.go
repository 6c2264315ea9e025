// Package metrics exposes the server's Prometheus counters.
//
// Each Metrics value owns its own registry, so tests can create as many as
// they like without colliding on the global default registerer.
//
// Usage:
//
//	m := metrics.New()
//	dispatcher := command.NewDispatcher(client, topics, opts, m, logger)
//	router.Handle("/metrics", m.Handler())
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "siamp"

// Result label values.
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

// Metrics holds every counter the server records.
//
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec
	events         *prometheus.CounterVec
	watchdog       prometheus.Counter
	schedules      *prometheus.CounterVec
	breakerChanges *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates the counters and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Device commands published, by action and result.",
		}, []string{"action", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Device events received, by kind and result.",
		}, []string{"kind", "result"}),
		watchdog: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "twins_marked_offline_total",
			Help:      "Twins flipped offline by the liveness watchdog.",
		}),
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_executions_total",
			Help:      "Schedule slots fired by the executor, by result.",
		}, []string{"result"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_breaker_transitions_total",
			Help:      "Circuit breaker state changes, by new state.",
		}, []string{"state"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency, by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands,
		m.events,
		m.watchdog,
		m.schedules,
		m.breakerChanges,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CommandDispatched counts one dispatch outcome.
func (m *Metrics) CommandDispatched(action, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, result).Inc()
}

// EventReceived counts one device event outcome. kind is "state" or "heartbeat".
func (m *Metrics) EventReceived(kind, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
}

// TwinMarkedOffline counts one watchdog transition.
func (m *Metrics) TwinMarkedOffline() {
	if m == nil {
		return
	}
	m.watchdog.Inc()
}

// ScheduleExecuted counts one executor firing.
func (m *Metrics) ScheduleExecuted(result string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(result).Inc()
}

// BreakerStateChanged counts a circuit breaker transition to state.
func (m *Metrics) BreakerStateChanged(state string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(state).Inc()
}

// HTTPRequest observes one API request. route is the matched pattern,
// not the raw path, to keep cardinality bounded.
func (m *Metrics) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
