// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat gateway.
//
// Metrics cover streaming requests (by agent type and status), token
// usage per model, time to first token, stream duration, tool
// invocations, and keepalive/disconnect counts. All metrics hang off the
// default registry and are exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	gatewaySubsystem = "studio"
)

// ChatMetrics holds every Prometheus metric for chat streaming.
//
// All operations are thread-safe via Prometheus's internal locking.
type ChatMetrics struct {
	// RequestsTotal counts chat requests.
	// Labels: agent_type (basic, react, plan), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first streamed
	// token. Labels: agent_type
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: agent_type, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open streaming connections.
	// Labels: agent_type
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by category.
	// Labels: agent_type, error_code
	ErrorsTotal *prometheus.CounterVec

	// ToolInvocationsTotal counts agent tool executions.
	// Labels: tool
	ToolInvocationsTotal *prometheus.CounterVec

	// PlansCreatedTotal counts plans produced by the plan agent.
	PlansCreatedTotal prometheus.Counter

	// KeepAlivesTotal counts SSE keepalive pings sent.
	KeepAlivesTotal prometheus.Counter

	// ClientDisconnectsTotal counts clients dropping mid-stream.
	// Labels: agent_type
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ChatMetrics

// InitMetrics registers all metrics on the default registry. Call once
// at startup; a second call panics on duplicate registration.
func InitMetrics() *ChatMetrics {
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by agent type and status",
			},
			[]string{"agent_type", "status"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first streamed token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"agent_type"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent_type", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
			[]string{"agent_type"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by agent type and category",
			},
			[]string{"agent_type", "error_code"},
		),

		ToolInvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tool_invocations_total",
				Help:      "Total agent tool executions by tool name",
			},
			[]string{"tool"},
		),

		PlansCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "plans_created_total",
				Help:      "Total plans produced by the plan agent",
			},
		),

		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "keepalives_total",
				Help:      "Total SSE keepalive pings sent",
			},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total clients that dropped mid-stream",
			},
			[]string{"agent_type"},
		),
	}
	return DefaultMetrics
}

// ErrorCode categorizes an error for metrics.
type ErrorCode string

const (
	// ErrorCodeGuardViolation indicates the outbound guard blocked the
	// message.
	ErrorCodeGuardViolation ErrorCode = "guard_violation"

	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeModelNotFound indicates no profile matched the request.
	ErrorCodeModelNotFound ErrorCode = "model_not_found"

	// ErrorCodeLLMError indicates a provider API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeAgentError indicates the agent loop failed.
	ErrorCodeAgentError ErrorCode = "agent_error"

	// ErrorCodeClientDisconnect indicates the client dropped.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"

	// ErrorCodeInternal indicates any other server failure.
	ErrorCodeInternal ErrorCode = "internal"
)

// RecordRequest records a completed chat request.
func (m *ChatMetrics) RecordRequest(agentType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(agentType, status).Inc()
}

// RecordError records a categorized chat error.
func (m *ChatMetrics) RecordError(agentType string, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(agentType, string(code)).Inc()
}

// RecordTokens records usage for one request.
func (m *ChatMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// StreamStarted increments the active streams gauge.
func (m *ChatMetrics) StreamStarted(agentType string) {
	m.ActiveStreams.WithLabelValues(agentType).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *ChatMetrics) StreamEnded(agentType string) {
	m.ActiveStreams.WithLabelValues(agentType).Dec()
}

// RecordToolInvocation counts one tool execution.
func (m *ChatMetrics) RecordToolInvocation(tool string) {
	m.ToolInvocationsTotal.WithLabelValues(tool).Inc()
}
