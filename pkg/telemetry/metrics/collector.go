// Package metrics exposes the control plane's Prometheus metrics:
// decision counts by effect, risk mode distribution, and tool execution
// outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the Prometheus instruments. All methods are safe for
// concurrent use. The Record methods are nil-safe so call sites do not
// have to guard for a disabled collector; Handler needs a non-nil one.
type Collector struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	riskModes      *prometheus.CounterVec
	riskScores     prometheus.Histogram
	toolExecutions *prometheus.CounterVec
	approvals      *prometheus.CounterVec
}

// NewCollector creates and registers the instruments on the given
// registry. A nil registry gets a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrl_decisions_total",
			Help: "Policy decisions by final effect.",
		}, []string{"decision"}),
		riskModes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrl_risk_mode_total",
			Help: "Scored intents by risk mode.",
		}, []string{"mode"}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctrl_risk_score",
			Help:    "Distribution of risk scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrl_tool_executions_total",
			Help: "Remote tool executions by outcome.",
		}, []string{"outcome"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctrl_approvals_total",
			Help: "Operator approval actions.",
		}, []string{"action"}),
	}

	registry.MustRegister(c.decisions, c.riskModes, c.riskScores, c.toolExecutions, c.approvals)
	return c
}

// RecordDecision counts one final decision.
func (c *Collector) RecordDecision(decision string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(decision).Inc()
}

// RecordRisk counts one scored intent.
func (c *Collector) RecordRisk(mode string, score int) {
	if c == nil {
		return
	}
	c.riskModes.WithLabelValues(mode).Inc()
	c.riskScores.Observe(float64(score))
}

// RecordExecution counts one remote tool execution.
func (c *Collector) RecordExecution(outcome string) {
	if c == nil {
		return
	}
	c.toolExecutions.WithLabelValues(outcome).Inc()
}

// RecordApproval counts one operator action ("approved" or "denied").
func (c *Collector) RecordApproval(action string) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(action).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
