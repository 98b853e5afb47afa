// Package metrics holds the Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	PipelineRunsTotal  *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram
	DesignFetchesTotal *prometheus.CounterVec
	TranscriptsSaved   prometheus.Counter
	RoomsCreatedTotal  prometheus.Counter
	TokensMintedTotal  prometheus.Counter

	// RPC channel metrics
	RPCConnsActive prometheus.Gauge
	RPCCallsTotal  *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "consult"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"route", "method"},
	)

	pipelineRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total transcript-to-design pipeline runs",
		},
		[]string{"status"},
	)

	pipelineDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Transcript-to-design pipeline duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	designFetchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "design_fetches_total",
			Help:      "Total design fetch attempts against the workflow service",
		},
		[]string{"status"},
	)

	transcriptsSaved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_saved_total",
			Help:      "Total transcripts durably saved",
		},
	)

	roomsCreatedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total rooms created on the room service",
		},
	)

	tokensMintedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_tokens_minted_total",
			Help:      "Total room access tokens minted",
		},
	)

	rpcConnsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_connections_active",
			Help:      "Number of open RPC websocket connections",
		},
	)

	rpcCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "Total RPC function calls received over the data channel",
		},
		[]string{"function", "outcome"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		pipelineRunsTotal,
		pipelineDuration,
		designFetchesTotal,
		transcriptsSaved,
		roomsCreatedTotal,
		tokensMintedTotal,
		rpcConnsActive,
		rpcCallsTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:           registry,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
		PipelineRunsTotal:  pipelineRunsTotal,
		PipelineDuration:   pipelineDuration,
		DesignFetchesTotal: designFetchesTotal,
		TranscriptsSaved:   transcriptsSaved,
		RoomsCreatedTotal:  roomsCreatedTotal,
		TokensMintedTotal:  tokensMintedTotal,
		RPCConnsActive:     rpcConnsActive,
		RPCCallsTotal:      rpcCallsTotal,
		ErrorsTotal:        errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(route, method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordPipelineRun records a finished pipeline run.
func (m *Metrics) RecordPipelineRun(status string, duration time.Duration) {
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(duration.Seconds())
}

// RecordDesignFetch records a design fetch attempt.
func (m *Metrics) RecordDesignFetch(status string) {
	m.DesignFetchesTotal.WithLabelValues(status).Inc()
}

// RecordRPCCall records one RPC function call.
func (m *Metrics) RecordRPCCall(function, outcome string) {
	m.RPCCallsTotal.WithLabelValues(function, outcome).Inc()
}

// RecordError records an error.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
