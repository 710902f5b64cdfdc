// Package metrics exposes prometheus counters for loop, tool and action
// outcomes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scout"

// Collector owns its registry so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	loopIterations    *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	actionAttempts    *prometheus.CounterVec
	inferenceFailures *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec

	known map[string]bool
}

// NewCollector registers every metric. knownTools bounds the tool label;
// any other name is counted as "unknown".
func NewCollector(knownTools ...string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg, known: make(map[string]bool, len(knownTools))}
	for _, t := range knownTools {
		c.known[t] = true
	}

	c.loopIterations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Agent loop iterations by loop",
		},
		[]string{"loop"},
	)

	c.toolCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	c.actionAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_attempts_total",
			Help:      "Browser action outcomes by operation, strategy and outcome",
		},
		[]string{"op", "strategy", "outcome"},
	)

	c.inferenceFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_failures_total",
			Help:      "Failed model calls by loop",
		},
		[]string{"loop"},
	)

	c.inferenceDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Model call latency by loop",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"loop"},
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) LoopIteration(loop string) {
	c.loopIterations.WithLabelValues(loop).Inc()
}

func (c *Collector) InferenceFailed(loop string) {
	c.inferenceFailures.WithLabelValues(loop).Inc()
}

func (c *Collector) InferenceDone(loop string, d time.Duration) {
	c.inferenceDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// ToolCalled implements tools.Observer.
func (c *Collector) ToolCalled(tool string, success bool) {
	if !c.known[tool] {
		tool = "unknown"
	}
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ActionResult implements executor.Observer.
func (c *Collector) ActionResult(_ context.Context, op, _, strategy, outcome string) {
	c.actionAttempts.WithLabelValues(op, strategy, outcome).Inc()
}
