// Package metrics expone contadores Prometheus de autenticación y
// reconciliación de perfiles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resultados posibles de una reconciliación, usados como label.
const (
	OutcomeCreated           = "created"
	OutcomeExisting          = "existing"
	OutcomeLinked            = "linked"
	OutcomeConflictRecovered = "conflict_recovered"
	OutcomeLockTimeout       = "lock_timeout"
	OutcomeError             = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	ReconcileOutcomes *prometheus.CounterVec
	AuthEvents        *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ReconcileOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocina",
			Subsystem: "reconciler",
			Name:      "outcomes_total",
			Help:      "Resultados de reconciliación de perfiles por tipo.",
		}, []string{"outcome"}),
		AuthEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocina",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Eventos de autenticación recibidos del proveedor.",
		}, []string{"kind"}),
	}
}

// ObserveReconcile incrementa el contador del resultado dado.
func (m *Metrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAuthEvent incrementa el contador del evento dado.
func (m *Metrics) ObserveAuthEvent(kind string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(kind).Inc()
}

// Handler devuelve el handler HTTP para /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
