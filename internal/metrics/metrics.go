package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for case operations.
type Metrics struct {
	registry *prometheus.Registry

	// Operation outcomes by operation name and outcome (ok or error kind)
	Operations *prometheus.CounterVec

	// Requests leaving the outstanding states by kind and final state
	RequestsResolved *prometheus.CounterVec

	NotificationsDropped prometheus.Counter
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_operations_total",
			Help: "Case operations by name and outcome",
		}, []string{"operation", "outcome"}),
		RequestsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caseline_requests_resolved_total",
			Help: "Validation requests closed or cancelled by kind",
		}, []string{"kind", "state"}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "caseline_notifications_dropped_total",
			Help: "Notification intents dropped because the queue was full or closed",
		}),
	}
}

// IncrementOperation records an operation outcome.
func (m *Metrics) IncrementOperation(operation, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
	}
}

// IncrementResolved records a request reaching a final state.
func (m *Metrics) IncrementResolved(kind, state string) {
	if m != nil {
		m.RequestsResolved.WithLabelValues(kind, state).Inc()
	}
}

// IncrementDropped records a dropped notification.
func (m *Metrics) IncrementDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
