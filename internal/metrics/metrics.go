// Package metrics exposes dispatch and outbox activity as Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	commands          *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	outboxTransitions *prometheus.CounterVec
}

// New registers the telbridge series, plus Go runtime and process collectors, on a
// private registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telbridge_commands_total",
				Help: "Resolved commands by outcome and failure code.",
			},
			[]string{"command", "outcome", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telbridge_command_duration_seconds",
				Help:    "Time from receipt to result per command.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		outboxTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telbridge_outbox_transitions_total",
				Help: "Outbox status changes after a transmission attempt.",
			},
			[]string{"status"},
		),
	}
	c.registry.MustRegister(
		c.commands,
		c.duration,
		c.outboxTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe implements dispatch.Observer.
func (c *Collector) Observe(_ context.Context, r dispatch.Resolution) {
	command := r.Command
	if r.Result.IsNotImplemented() {
		// Unknown names are caller input; keep label cardinality bounded.
		command = "unknown"
	}
	c.commands.WithLabelValues(command, string(r.Result.Outcome), string(r.Result.Code)).Inc()
	c.duration.WithLabelValues(command).Observe(r.Duration.Seconds())
}

// OutboxTransition is an outbox.TransitionHook.
func (c *Collector) OutboxTransition(status outbox.Status) {
	c.outboxTransitions.WithLabelValues(string(status)).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
