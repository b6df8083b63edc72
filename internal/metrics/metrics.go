// Package metrics exposes Prometheus counters for commands, reconciled
// events, resyncs and push reconnects.
//
// A nil *Metrics is valid and records nothing, so callers that do not care
// about instrumentation can pass nil.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the theatresync collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	commands   *prometheus.CounterVec
	events     *prometheus.CounterVec
	resyncs    *prometheus.CounterVec
	reconnects prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theatresync",
			Name:      "commands_total",
			Help:      "Commands by name and outcome (confirmed, rejected, rolled_back).",
		}, []string{"command", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theatresync",
			Name:      "events_total",
			Help:      "Push events by entity kind, action and result (applied, dropped).",
		}, []string{"kind", "action", "result"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theatresync",
			Name:      "resyncs_total",
			Help:      "Full store resynchronizations by trigger.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "theatresync",
			Name:      "push_reconnects_total",
			Help:      "Push channel connection attempts after the first.",
		}),
	}
	m.registry.MustRegister(m.commands, m.events, m.resyncs, m.reconnects)
	return m
}

// Command records the outcome of one command.
func (m *Metrics) Command(name, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, outcome).Inc()
}

// Event records one push event.
func (m *Metrics) Event(kind, action, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, action, result).Inc()
}

// Resync records one full resynchronization.
func (m *Metrics) Resync(reason string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(reason).Inc()
}

// Reconnect records one push reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
