// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianStudio/services/gateway/agent"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
	"github.com/AleutianAI/AleutianStudio/services/guard"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// WSRequest is one chat turn sent by a WebSocket client.
type WSRequest struct {
	Message   string `json:"message"`
	Model     string `json:"model"`
	Provider  string `json:"provider,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsSink relays agent events to the WebSocket client as JSON frames.
// The frame shape mirrors the SSE event envelope so web clients can
// share a single event decoder. Agent runs are sequential per
// connection, so writes never race.
type wsSink struct {
	ws *websocket.Conn
}

var _ agent.EventSink = (*wsSink)(nil)

func (s *wsSink) send(event datatypes.StreamEvent) error {
	if err := s.ws.WriteJSON(event); err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
		return err
	}
	return nil
}

func (s *wsSink) Token(content string) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: content})
}

func (s *wsSink) NodeStart(node string) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventNodeStart, Node: node})
}

func (s *wsSink) NodeEnd(node string) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventNodeEnd, Node: node})
}

func (s *wsSink) ToolStart(tool, input string) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventToolStart, Tool: tool, ToolInput: input})
}

func (s *wsSink) ToolEnd(tool, output string) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventToolEnd, Tool: tool, ToolOutput: output})
}

func (s *wsSink) PlanCreated(plan []datatypes.PlanStep) error {
	return s.send(datatypes.StreamEvent{Type: datatypes.StreamEventPlanCreated, Plan: plan})
}

func (s *wsSink) PlanStepCompleted(stepNumber int, description string) error {
	return s.send(datatypes.StreamEvent{
		Type:        datatypes.StreamEventPlanStep,
		StepNumber:  stepNumber,
		Description: description,
	})
}

// HandleChatWebSocket serves GET /v2/chat/ws. Each connection gets its
// own session; the session id is sent immediately on connect so the
// client can resume over the SSE endpoint later.
func HandleChatWebSocket(
	registry *llm.Registry,
	store session.Store,
	g *guard.Guard,
	settings func() config.Settings,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		ctx := c.Request.Context()
		sess, _, err := store.GetOrCreate(ctx, "")
		if err != nil {
			slog.Error("Failed to create websocket session", "error", err)
			return
		}
		slog.Info("Websocket client connected", "sessionId", sess.ID)

		if err := ws.WriteJSON(map[string]any{
			"action":    "session_created",
			"sessionId": sess.ID,
		}); err != nil {
			return
		}

		sink := &wsSink{ws: ws}
		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "error", err.Error())
				return
			}
			if req.Message == "" {
				_ = sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: "Message is required",
				})
				continue
			}

			if finding, blocked := g.CheckOutbound(req.Message); blocked {
				slog.Warn("Blocked outbound websocket message",
					"sessionId", sess.ID,
					"classification", finding.ClassificationName,
					"pattern", finding.PatternId,
				)
				_ = sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: "Policy Violation: Message contains sensitive data.",
				})
				continue
			}

			agentType, ok := datatypes.NormalizeAgentType(req.AgentType)
			if !ok {
				_ = sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: "Unknown agent_type: " + req.AgentType,
				})
				continue
			}

			client, err := registry.Resolve(req.Model, req.Provider)
			if err != nil {
				_ = sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: err.Error(),
				})
				continue
			}

			current, err := store.Get(ctx, sess.ID)
			if err != nil {
				slog.Error("Failed to load websocket session", "sessionId", sess.ID, "error", err)
				current = sess
			}
			userMessage := datatypes.Message{Role: "user", Content: req.Message}

			s := settings()
			runner, err := agent.New(agentType, client, agent.Options{
				MaxSteps:     s.Agent.MaxSteps,
				SystemPrompt: s.Agent.SystemPrompt,
			})
			if err != nil {
				_ = sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: sanitizeErrorForClient(err.Error()),
				})
				continue
			}

			state := &agent.State{
				Messages: append(append([]datatypes.Message{}, current.Messages...), userMessage),
			}
			if runErr := runner.Run(ctx, state, sink); runErr != nil {
				slog.Error("Websocket agent run failed", "sessionId", sess.ID, "error", runErr)
				if sink.send(datatypes.StreamEvent{
					Type:  datatypes.StreamEventError,
					Error: friendlyLLMError(runErr),
				}) != nil {
					return
				}
				continue
			}

			if err := store.Append(ctx, sess.ID, userMessage,
				datatypes.Message{Role: "assistant", Content: state.FinalContent}); err != nil {
				slog.Error("Failed to persist websocket turn", "sessionId", sess.ID, "error", err)
			}

			if sink.send(datatypes.StreamEvent{
				Type:      datatypes.StreamEventEnd,
				Status:    "completed",
				SessionId: sess.ID,
			}) != nil {
				return
			}
		}
	}
}
