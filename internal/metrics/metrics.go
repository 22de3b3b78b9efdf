// Package metrics exposes Prometheus counters for the tool server. Each
// Collector owns its registry so tests and multiple servers never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"comfymcp/internal/ledger"
)

// Namespace prefixes every metric name.
const Namespace = "comfymcp"

// Collector holds the server's metrics. It satisfies the recorder interfaces
// of the workflow store, the ledger and the upstream client.
type Collector struct {
	registry *prometheus.Registry

	GraphLookups     *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
}

// New creates a Collector with a fresh registry, including Go runtime and
// process collectors.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		GraphLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "graph_cache_lookups_total",
			Help:      "Workflow graph lookups by cache result.",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs queued on the upstream server, by tool.",
		}, []string{"tool"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_transitions_total",
			Help:      "Job status changes applied by reconciliation, by new status.",
		}, []string{"status"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the upstream server by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.GraphLookups,
		c.Submissions,
		c.Transitions,
		c.UpstreamRequests,
		c.ToolCalls,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveGraphLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.GraphLookups.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveSubmission(tool string) {
	c.Submissions.WithLabelValues(tool).Inc()
}

func (c *Collector) ObserveTransition(_, to ledger.Status) {
	c.Transitions.WithLabelValues(string(to)).Inc()
}

func (c *Collector) ObserveUpstream(operation string, err error) {
	c.UpstreamRequests.WithLabelValues(operation, outcome(err)).Inc()
}

func (c *Collector) ObserveToolCall(tool string, err error) {
	c.ToolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
