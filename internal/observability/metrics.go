package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMu     sync.Mutex
)

// Collector holds the Prometheus metrics for the pipeline.
type Collector struct {
	registry *prometheus.Registry

	// Per-node pipeline latency, keyed by (node, datasource).
	NodeDuration *prometheus.HistogramVec

	// LLM token usage, keyed by (agent, model, datasource, type).
	// type is one of prompt | completion | total.
	LLMTokens *prometheus.CounterVec

	// Sandbox submissions, keyed by (pool, outcome).
	SandboxSubmissions *prometheus.CounterVec

	// Breaker state transitions, keyed by (breaker, state).
	BreakerTransitions *prometheus.CounterVec

	// Artifact writes, keyed by backend.
	ArtifactWrites *prometheus.CounterVec
}

// NewCollector creates (or returns) the process-wide collector. Singleton so
// repeated construction in tests does not double-register.
func NewCollector(namespace string) *Collector {
	collectorMu.Lock()
	defer collectorMu.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	nodeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Pipeline node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "datasource"},
	)

	llmTokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM token usage by agent, model and token type",
		},
		[]string{"agent", "model", "datasource", "type"},
	)

	sandboxSubmissions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_submissions_total",
			Help:      "Sandbox pool submissions by pool and outcome",
		},
		[]string{"pool", "outcome"},
	)

	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"breaker", "state"},
	)

	artifactWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_writes_total",
			Help:      "Artifact store writes by backend",
		},
		[]string{"backend"},
	)

	registry.MustRegister(nodeDuration, llmTokens, sandboxSubmissions, breakerTransitions, artifactWrites)

	globalCollector = &Collector{
		registry:           registry,
		NodeDuration:       nodeDuration,
		LLMTokens:          llmTokens,
		SandboxSubmissions: sandboxSubmissions,
		BreakerTransitions: breakerTransitions,
		ArtifactWrites:     artifactWrites,
	}
	return globalCollector
}

// Metrics returns the process-wide collector, creating it on first use.
func Metrics() *Collector { return NewCollector("queryloom") }

// Registry exposes the collector's registry for scraping.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveNode records one node execution.
func (c *Collector) ObserveNode(node, datasource string, d time.Duration) {
	c.NodeDuration.WithLabelValues(node, datasource).Observe(d.Seconds())
}

// RecordTokens records LLM token usage for one agent call.
func (c *Collector) RecordTokens(agent, model, datasource string, prompt, completion int) {
	c.LLMTokens.WithLabelValues(agent, model, datasource, "prompt").Add(float64(prompt))
	c.LLMTokens.WithLabelValues(agent, model, datasource, "completion").Add(float64(completion))
	c.LLMTokens.WithLabelValues(agent, model, datasource, "total").Add(float64(prompt + completion))
}
