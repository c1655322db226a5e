// Package metrics provides Prometheus metrics for the agent mesh:
// HTTP traffic, LLM invocations, spend, and circuit breaker activity.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the mesh.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// LLM metrics
	LLMRequestsTotal  *prometheus.CounterVec
	LLMFallbacksTotal *prometheus.CounterVec
	LLMTokensUsed     *prometheus.CounterVec
	LLMCostTotal      *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerFailuresTotal    *prometheus.CounterVec
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_http_requests_total",
				Help: "Total HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mesh_http_request_duration_seconds",
				Help:    "HTTP request latency by method and path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_llm_requests_total",
				Help: "Total LLM invocations by provider and status",
			},
			[]string{"provider", "status"},
		),
		LLMFallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_llm_fallbacks_total",
				Help: "Invocations routed to the free fallback provider, by agent",
			},
			[]string{"agent_id"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_llm_tokens_total",
				Help: "Tokens consumed by model and direction (prompt/completion)",
			},
			[]string{"model", "direction"},
		),
		LLMCostTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_llm_cost_usd_total",
				Help: "Accumulated inference cost in USD by model",
			},
			[]string{"model"},
		),
		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_breaker_transitions_total",
				Help: "Circuit breaker state transitions by target status",
			},
			[]string{"to_status"},
		),
		BreakerFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_breaker_failures_total",
				Help: "Failures recorded against the circuit breaker, by agent",
			},
			[]string{"agent_id"},
		),
	}
}
