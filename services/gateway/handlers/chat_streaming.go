// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianStudio/pkg/extensions"
	"github.com/AleutianAI/AleutianStudio/services/gateway/agent"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/gateway/middleware"
	"github.com/AleutianAI/AleutianStudio/services/gateway/observability"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
	"github.com/AleutianAI/AleutianStudio/services/guard"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// heartbeatInterval is how often keepalive comments are written during
// long agent turns (tool execution, slow models).
const heartbeatInterval = 15 * time.Second

// maxReplayMessages bounds how much stored history is replayed into the
// prompt on each turn.
const maxReplayMessages = 40

// StreamingChatHandler serves POST /v2/chat as a Server-Sent Events
// stream.
//
// # Description
//
// The handler binds and validates the request, scans the outbound
// message against the policy guard, resolves the LLM profile, loads
// session history, and then drives the selected agent graph while
// relaying its events to the client. Everything that can be rejected
// with a plain HTTP status is rejected before the SSE headers go out;
// once streaming has begun, failures are reported as a terminal
// "error" event instead.
//
// # Security
//
//   - Outbound messages are scanned for credentials and PII before any
//     LLM sees them (403 on a blocking finding).
//   - The assistant answer is accumulated in mlocked memory and its
//     hash logged for async audit review.
//   - Errors sent to clients are sanitized; full errors go to the log.
type StreamingChatHandler struct {
	registry *llm.Registry
	store    session.Store
	guard    *guard.Guard
	settings func() config.Settings
	audit    extensions.AuditLogger
	tracer   trace.Tracer
}

// NewStreamingChatHandler creates a chat handler. The settings function
// returns the current (possibly hot-reloaded) settings snapshot.
func NewStreamingChatHandler(
	registry *llm.Registry,
	store session.Store,
	g *guard.Guard,
	settings func() config.Settings,
	opts extensions.GatewayOptions,
) *StreamingChatHandler {
	return &StreamingChatHandler{
		registry: registry,
		store:    store,
		guard:    g,
		settings: settings,
		audit:    opts.AuditLogger,
		tracer:   otel.Tracer("aleutian.gateway.handlers"),
	}
}

// HandleChat handles POST /v2/chat.
func (h *StreamingChatHandler) HandleChat(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "gateway.chat")
	defer span.End()

	requestID, _ := datatypes.NewRequestID()

	// Step 1: Parse and validate the request body.
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed: " + err.Error()})
		return
	}

	agentType, ok := datatypes.NormalizeAgentType(req.AgentType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown agent_type: " + req.AgentType})
		return
	}
	if req.SessionID != "" && !session.ValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session_id"})
		return
	}

	span.SetAttributes(
		attribute.String("chat.agent_type", string(agentType)),
		attribute.String("chat.model", req.Model),
	)

	// Track the stream for metrics. Validation failures above are cheap
	// rejections and intentionally not counted as streams.
	m := observability.DefaultMetrics
	if m != nil {
		m.StreamStarted(string(agentType))
		defer m.StreamEnded(string(agentType))
	}
	start := time.Now()
	success := false
	defer func() {
		if m != nil {
			m.RecordRequest(string(agentType), success)
			status := "error"
			if success {
				status = "success"
			}
			m.StreamDurationSeconds.WithLabelValues(string(agentType), status).
				Observe(time.Since(start).Seconds())
		}
	}()

	// Step 2: Scan the outbound message for policy violations before it
	// reaches any LLM provider.
	if finding, blocked := h.guard.CheckOutbound(req.Message); blocked {
		slog.Warn("Blocked outbound message",
			"requestId", requestID,
			"classification", finding.ClassificationName,
			"pattern", finding.PatternId,
		)
		if m != nil {
			m.RecordError(string(agentType), observability.ErrorCodeGuardViolation)
		}
		if h.audit != nil {
			userID := "local-user"
			if info := middleware.GetAuthInfo(c); info != nil {
				userID = info.UserID
			}
			_ = h.audit.Log(ctx, extensions.AuditEvent{
				UserID:   userID,
				Action:   "chat.blocked",
				Resource: finding.PatternId,
				Outcome:  "blocked",
				Detail:   finding.ClassificationName,
			})
		}
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "Policy Violation: Message contains sensitive data.",
			"findings": []guard.Finding{finding},
		})
		return
	}

	// Step 3: Load or create the session before committing to SSE, so
	// store failures still get a proper HTTP status.
	sess, createdNew, err := h.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		slog.Error("Session lookup failed", "requestId", requestID, "error", err)
		if m != nil {
			m.RecordError(string(agentType), observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeErrorForClient(err.Error())})
		return
	}
	if createdNew {
		slog.Debug("Created session", "requestId", requestID, "sessionId", sess.ID)
	}

	history := sess.Messages
	if len(history) == 0 {
		// Stateless clients supply history inline.
		history = req.History
	}
	if len(history) > maxReplayMessages {
		history = history[len(history)-maxReplayMessages:]
	}
	userMessage := datatypes.Message{Role: "user", Content: req.Message}

	// Step 4: Switch to SSE. From here on, errors are stream events.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	if err := writer.WriteStart(sess.ID); err != nil {
		slog.Debug("Client gone before start event", "requestId", requestID, "error", err)
		return
	}

	// Step 5: Resolve the LLM profile. The stream is already open, so an
	// unknown model surfaces as an error event rather than a 404.
	client, err := h.registry.Resolve(req.Model, req.Provider)
	if err != nil {
		slog.Warn("Model resolution failed",
			"requestId", requestID,
			"model", req.Model,
			"provider", req.Provider,
			"error", err,
		)
		if m != nil {
			m.RecordError(string(agentType), observability.ErrorCodeModelNotFound)
		}
		_ = writer.WriteError(err.Error())
		return
	}
	profile := client.Profile()
	span.SetAttributes(attribute.String("chat.profile", profile.Name))

	// Step 6: Heartbeat goroutine keeps proxies from timing out the
	// connection during long tool runs.
	heartbeatDone := make(chan struct{})
	go runHeartbeat(ctx, writer, heartbeatDone)

	// Step 7: Accumulate the answer in secure memory for persistence.
	accumulator, err := NewTokenAccumulator()
	if err != nil {
		slog.Error("Failed to create token accumulator", "requestId", requestID, "error", err)
		close(heartbeatDone)
		if m != nil {
			m.RecordError(string(agentType), observability.ErrorCodeInternal)
		}
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}
	defer accumulator.Destroy()

	settings := h.settings()
	sink := &sseSink{
		writer:      writer,
		accumulator: accumulator,
		requestID:   requestID,
	}

	runner, err := agent.New(agentType, client, agent.Options{
		MaxSteps:     settings.Agent.MaxSteps,
		SystemPrompt: settings.Agent.SystemPrompt,
	})
	if err != nil {
		close(heartbeatDone)
		if m != nil {
			m.RecordError(string(agentType), observability.ErrorCodeAgentError)
		}
		_ = writer.WriteError(sanitizeErrorForClient(err.Error()))
		return
	}

	state := &agent.State{Messages: append(append([]datatypes.Message{}, history...), userMessage)}
	runErr := runner.Run(ctx, state, sink)
	close(heartbeatDone)

	if runErr != nil {
		h.finishWithError(ctx, writer, requestID, string(agentType), runErr, sink)
		return
	}

	// Step 8: Persist the turn and close the stream.
	answer := state.FinalContent
	if _, hash, ferr := accumulator.Finalize(); ferr == nil {
		slog.Info("Chat turn completed",
			"requestId", requestID,
			"sessionId", sess.ID,
			"profile", profile.Name,
			"tokenCount", atomic.LoadInt32(&sink.tokenCount),
			"answerHash", hash,
		)
	}
	if err := h.store.Append(ctx, sess.ID, userMessage,
		datatypes.Message{Role: "assistant", Content: answer}); err != nil {
		// The client already has the answer; losing history is not fatal.
		slog.Error("Failed to persist chat turn",
			"requestId", requestID, "sessionId", sess.ID, "error", err)
	}

	if m != nil {
		m.RecordTokens(state.Usage.InputTokens, state.Usage.OutputTokens, profile.Model)
		if !sink.firstTokenTime.IsZero() {
			m.TimeToFirstTokenSeconds.WithLabelValues(string(agentType)).
				Observe(sink.firstTokenTime.Sub(start).Seconds())
		}
	}

	if err := writer.WriteEnd(sess.ID); err != nil {
		slog.Debug("Client gone before end event", "requestId", requestID, "error", err)
		return
	}
	success = true
}

// finishWithError classifies a failed run and reports it to the client
// when the client is still connected.
func (h *StreamingChatHandler) finishWithError(
	ctx context.Context,
	writer SSEWriter,
	requestID, agentType string,
	runErr error,
	sink *sseSink,
) {
	m := observability.DefaultMetrics

	// A canceled context means the client went away; there is nobody
	// left to write an error event to.
	if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
		slog.Info("Client disconnected mid-stream",
			"requestId", requestID,
			"tokenCount", atomic.LoadInt32(&sink.tokenCount),
		)
		if m != nil {
			m.RecordError(agentType, observability.ErrorCodeClientDisconnect)
			m.ClientDisconnectsTotal.WithLabelValues(agentType).Inc()
		}
		return
	}

	slog.Error("Agent run failed",
		"requestId", requestID,
		"agentType", agentType,
		"error", runErr,
	)
	if m != nil {
		m.RecordError(agentType, observability.ErrorCodeLLMError)
	}
	_ = writer.WriteError(friendlyLLMError(runErr))
}

// friendlyLLMError maps common provider failures to actionable messages
// and sanitizes everything else.
func friendlyLLMError(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "incorrect api key"):
		return "The model provider rejected the configured API key. Check the api_key for this profile in settings.yaml."
	case strings.Contains(lower, "ollama pull"):
		// The registry's pull hint is safe and genuinely useful.
		return msg
	case strings.Contains(lower, "maximum of") && strings.Contains(lower, "steps"):
		return msg
	default:
		return sanitizeErrorForClient(msg)
	}
}

// sanitizeErrorForClient returns a generic message, keeping provider
// internals (URLs, key fragments, stack details) out of the stream.
func sanitizeErrorForClient(errMsg string) string {
	slog.Debug("Sanitizing error for client", "original_error", errMsg)
	return "An error occurred while processing your request"
}

// runHeartbeat writes keepalive comments until done is closed or the
// client disconnects.
func runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.KeepAlivesTotal.Inc()
			}
		}
	}
}

// sseSink adapts the SSE writer to the agent.EventSink interface,
// recording stream metrics along the way. Write errors propagate back
// into the agent run and abort it (client disconnect).
type sseSink struct {
	writer      SSEWriter
	accumulator TokenAccumulator
	requestID   string

	tokenCount     int32
	firstTokenTime time.Time
}

var _ agent.EventSink = (*sseSink)(nil)

func (s *sseSink) Token(content string) error {
	if s.firstTokenTime.IsZero() {
		s.firstTokenTime = time.Now()
	}
	atomic.AddInt32(&s.tokenCount, 1)

	if s.accumulator != nil {
		if err := s.accumulator.Write(content); err != nil {
			// The user still gets the token; only persistence degrades.
			slog.Warn("failed to accumulate token for persistence",
				"requestId", s.requestID,
				"error", err,
				"accumulatorId", s.accumulator.ID(),
			)
		}
	}
	return s.writer.WriteToken(content)
}

func (s *sseSink) NodeStart(node string) error {
	return s.writer.WriteNodeStart(node)
}

func (s *sseSink) NodeEnd(node string) error {
	return s.writer.WriteNodeEnd(node)
}

func (s *sseSink) ToolStart(tool, input string) error {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordToolInvocation(tool)
	}
	return s.writer.WriteToolStart(tool, input)
}

func (s *sseSink) ToolEnd(tool, output string) error {
	return s.writer.WriteToolEnd(tool, output)
}

func (s *sseSink) PlanCreated(plan []datatypes.PlanStep) error {
	if m := observability.DefaultMetrics; m != nil {
		m.PlansCreatedTotal.Inc()
	}
	return s.writer.WritePlanCreated(plan)
}

func (s *sseSink) PlanStepCompleted(stepNumber int, description string) error {
	return s.writer.WritePlanStepCompleted(stepNumber, description)
}
