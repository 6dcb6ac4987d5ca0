// Package metrics exposes Prometheus counters for dispatched commands.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/aobridge/internal/dispatch"
)

// Outcome label for successful invocations; failures use their Result kind.
const OutcomeOK = "ok"

// Metrics holds the bridge collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aobridge_invocations_total",
				Help: "Worker invocations by command and outcome kind.",
			},
			[]string{"command", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aobridge_invocation_duration_seconds",
				Help:    "Wall time of worker invocations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"command"},
		),
	}
	m.registry.MustRegister(
		m.invocations,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements dispatch.Observer.
func (m *Metrics) Observe(_ context.Context, rec dispatch.Record) {
	cmd := string(rec.Command.Command)
	kind := OutcomeOK
	if rec.Result != nil && !rec.Result.Success {
		kind = string(rec.Result.Kind)
	}
	m.invocations.WithLabelValues(cmd, kind).Inc()
	m.duration.WithLabelValues(cmd).Observe(rec.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
