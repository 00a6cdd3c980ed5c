// Package metrics exposes the process's Prometheus collectors (spec.md §9
// ambient observability). Grounded on the haasonsaas-nexus example's
// internal/observability/metrics.go: one struct of promauto-registered
// CounterVec/HistogramVec/GaugeVec fields, registered once at startup and
// passed by reference to whichever component records against it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the scheduler, broadcast hub, and REST
// server record against.
type Metrics struct {
	// SessionsTotal counts sessions by terminal status.
	// Labels: status (completed|failed|timed_out|cancelled)
	SessionsTotal *prometheus.CounterVec

	// SessionDuration measures session wall time, alert submission to
	// terminal status, in seconds.
	// Labels: alert_type
	SessionDuration *prometheus.HistogramVec

	// StageDuration measures one stage execution's wall time in seconds.
	// Labels: agent_type, status
	StageDuration *prometheus.HistogramVec

	// LLMRequestDuration measures one LLM provider call's latency in
	// seconds.
	// Labels: provider, status (success|error)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensTotal tracks token consumption.
	// Labels: provider, type (input|output)
	LLMTokensTotal *prometheus.CounterVec

	// MCPToolDuration measures one MCP tool call's latency in seconds.
	// Labels: server, tool, status (success|error)
	MCPToolDuration *prometheus.HistogramVec

	// WSActiveConnections is the current count of registered WebSocket
	// connections.
	WSActiveConnections prometheus.Gauge

	// WSMessagesSent counts messages delivered over the broadcast fabric.
	// Labels: outcome (sent|dropped|throttled)
	WSMessagesSent *prometheus.CounterVec

	// HTTPRequestDuration measures REST handler latency in seconds.
	// Labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector against the default Prometheus registry.
// Call once at process startup.
func New() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_sessions_total",
			Help: "Total number of sessions reaching a terminal status, by status.",
		}, []string{"status"}),

		SessionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarsy_session_duration_seconds",
			Help:    "Session wall time from alert submission to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"alert_type"}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarsy_stage_duration_seconds",
			Help:    "Stage execution wall time.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"agent_type", "status"}),

		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarsy_llm_request_duration_seconds",
			Help:    "LLM provider call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "status"}),

		LLMTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_llm_tokens_total",
			Help: "Token consumption by provider and token type.",
		}, []string{"provider", "type"}),

		MCPToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarsy_mcp_tool_duration_seconds",
			Help:    "MCP tool call latency.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"server", "tool", "status"}),

		WSActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tarsy_ws_active_connections",
			Help: "Current number of registered WebSocket connections.",
		}),

		WSMessagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tarsy_ws_messages_total",
			Help: "Messages handled by the broadcast fabric, by outcome.",
		}, []string{"outcome"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarsy_http_request_duration_seconds",
			Help:    "REST handler latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status"}),
	}
}

// ObserveSeconds is a small helper for the common defer-a-timer pattern.
func ObserveSeconds(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
