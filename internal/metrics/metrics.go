// Package metrics registers the Prometheus collectors of the server.
//
// HTTP:
//   - hobbysync_http_requests_total{method, route, status}
//   - hobbysync_http_request_duration_seconds{method, route}
//
// Engine:
//   - hobbysync_invocations_total{action, output_case}
//   - hobbysync_action_duration_seconds{action}
//   - hobbysync_sync_firings_total{sync}
//   - hobbysync_flows_active
//   - hobbysync_engine_queue_depth
//   - hobbysync_engine_errors_total{code}
//   - hobbysync_requests_timed_out_total
//
// LLM:
//   - hobbysync_llm_requests_total{result}
//   - hobbysync_circuit_breaker_state{name} (0 closed, 1 open, 2 half-open)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hobbysync_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hobbysync_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "route"},
	)

	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hobbysync_invocations_total",
			Help: "Completed action invocations by action and output case",
		},
		[]string{"action", "output_case"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hobbysync_action_duration_seconds",
			Help:    "Time spent executing a concept action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	SyncFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hobbysync_sync_firings_total",
			Help: "Sync rule firings",
		},
		[]string{"sync"},
	)

	FlowsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hobbysync_flows_active",
		Help: "Flows with pending or running invocations",
	})

	EngineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hobbysync_engine_queue_depth",
		Help: "Events waiting in the engine queue",
	})

	EngineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hobbysync_engine_errors_total",
			Help: "Engine runtime errors by code",
		},
		[]string{"code"},
	)

	RequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hobbysync_requests_timed_out_total",
		Help: "HTTP requests that received no response before the timeout",
	})

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hobbysync_llm_requests_total",
			Help: "LLM generate calls by result (success, failure, rejected)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hobbysync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)
