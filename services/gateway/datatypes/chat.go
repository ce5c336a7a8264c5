// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the gateway service.
//
// This file contains request, response, and stream event types for the
// chat endpoints. For model listing and agent graph types, see models.go
// and graph.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	// Per SEC-003: Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of history messages accepted
	// in a single request. Per SEC-004: Unbounded message history mitigation.
	MaxHistoryMessages = 100
)

// =============================================================================
// Agent Types
// =============================================================================

// AgentType identifies the invocation mode for a chat request.
type AgentType string

const (
	// AgentBasic streams the LLM response directly, without a graph.
	AgentBasic AgentType = "basic"

	// AgentReAct runs the reason-and-act loop (agent ⇄ tools).
	AgentReAct AgentType = "react"

	// AgentPlan runs the planning graph (QUERY → MAIN ⇄ TOOL).
	AgentPlan AgentType = "plan"
)

// NormalizeAgentType maps a request agent_type value to a canonical
// AgentType. Legacy names used by older web clients are accepted as
// aliases. Returns false if the value is not recognized.
func NormalizeAgentType(s string) (AgentType, bool) {
	switch s {
	case "", "react", "langgraph":
		// langgraph is the legacy name from the v1 web client
		return AgentReAct, true
	case "basic":
		return AgentBasic, true
	case "plan", "plan-1":
		return AgentPlan, true
	default:
		return "", false
	}
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Register custom validator for message content size (SEC-003)
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxMessageContentBytes. Checks byte length (not rune count) to prevent
// memory exhaustion with large payloads (SEC-003).
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Messages
// =============================================================================

// ToolCall records one tool invocation requested by the LLM.
// Arguments is the raw JSON argument object as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single conversation message.
//
// # Fields
//
//   - Role: "system", "user", "assistant", or "tool".
//   - Content: Message text. Limited to 32KB (SEC-003).
//   - Name: Tool name, set on tool result messages.
//   - ToolCalls: Tool invocations requested by an assistant message.
//   - ToolCallID: Correlates a tool result with the assistant tool call
//     that requested it.
type Message struct {
	Role       string     `json:"role" validate:"required,oneof=system user assistant tool"`
	Content    string     `json:"content" validate:"maxbytes"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest represents the POST /v2/chat request body.
//
// # Description
//
// ChatRequest carries one user message plus routing information: which LLM
// profile (or bare model name) to use, which agent mode to run, and an
// optional session to continue. History is loaded server-side from the
// session store; clients may additionally supply explicit History messages
// for stateless use.
//
// # Fields
//
//   - Message: Required. The user's input.
//   - Model: Required. Profile name or model name. Resolution order:
//     profile name, then provider+model, then model across providers,
//     then the default profile.
//   - Provider: Optional. Narrows model resolution ("openai",
//     "azureopenai", "ollama").
//   - AgentType: Optional. "basic", "react" (default), or "plan".
//     Legacy aliases "langgraph" and "plan-1" are accepted.
//   - SessionID: Optional. Existing session to continue. When empty a new
//     session is created and its id is returned in the end event.
//   - History: Optional. Explicit history for stateless clients,
//     capped at 100 messages (SEC-004).
//
// # Validation
//
//   - Message: required, max 32768 bytes (SEC-003)
//   - History: max 100 elements, each element validated
type ChatRequest struct {
	Message   string    `json:"message" validate:"required,maxbytes"`
	Model     string    `json:"model" validate:"required"`
	Provider  string    `json:"provider,omitempty" validate:"omitempty,oneof=openai azureopenai ollama"`
	AgentType string    `json:"agent_type,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	History   []Message `json:"history,omitempty" validate:"omitempty,max=100,dive"`
}

// Validate validates the ChatRequest fields using go-playground/validator
// tags and custom validators. Call after binding the JSON request.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Stream Events
// =============================================================================

// StreamEventType enumerates the named events on the chat SSE stream.
type StreamEventType string

const (
	// StreamEventStart opens the stream.
	StreamEventStart StreamEventType = "start"

	// StreamEventToken carries one token fragment of the assistant answer.
	StreamEventToken StreamEventType = "token"

	// StreamEventNodeStart marks entry into an agent graph node.
	StreamEventNodeStart StreamEventType = "node_start"

	// StreamEventNodeEnd marks exit from an agent graph node.
	StreamEventNodeEnd StreamEventType = "node_end"

	// StreamEventToolStart marks the start of a tool invocation.
	StreamEventToolStart StreamEventType = "tool_start"

	// StreamEventToolEnd marks the end of a tool invocation.
	StreamEventToolEnd StreamEventType = "tool_end"

	// StreamEventPlanCreated carries the plan produced by the plan agent.
	StreamEventPlanCreated StreamEventType = "plan_created"

	// StreamEventPlanStep marks completion of one plan step.
	StreamEventPlanStep StreamEventType = "plan_step_completed"

	// StreamEventEnd closes the stream after a successful run.
	StreamEventEnd StreamEventType = "end"

	// StreamEventError closes the stream after a failure.
	StreamEventError StreamEventType = "error"
)

// PlanStep is a single step in a plan agent execution plan.
type PlanStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Status      string `json:"status"` // "pending", "completed"
}

// StreamEvent is the JSON envelope written as SSE event data.
//
// # Description
//
// Every event on the chat stream shares this envelope. The SSE event name
// equals the Type field. Metadata (Id, CreatedAt, Hash, PrevHash) is
// populated by the SSE writer: each event's Hash covers its content and
// the PrevHash links to the previous event, forming a per-stream hash
// chain for integrity verification.
//
// # Fields
//
// Content fields are populated per event type:
//
//   - Status: start/end ("started", "completed")
//   - Content: token fragments
//   - Node: node_start/node_end (graph node name)
//   - Tool, ToolInput, ToolOutput: tool_start/tool_end
//   - Plan: plan_created
//   - StepNumber, Description: plan_step_completed
//   - SessionId: end (conversation continuity)
//   - Error: error (sanitized message)
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	Status      string          `json:"status,omitempty"`
	Content     string          `json:"content,omitempty"`
	Node        string          `json:"node,omitempty"`
	Tool        string          `json:"tool,omitempty"`
	ToolInput   string          `json:"input,omitempty"`
	ToolOutput  string          `json:"output,omitempty"`
	Plan        []PlanStep      `json:"plan,omitempty"`
	StepNumber  int             `json:"step_number,omitempty"`
	Description string          `json:"description,omitempty"`
	SessionId   string          `json:"session_id,omitempty"`
	Error       string          `json:"error,omitempty"`

	// Metadata, populated by the SSE writer.
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// =============================================================================
// Token Usage
// =============================================================================

// TokenUsage contains token consumption statistics for one LLM call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// generateUUID returns a new UUID v4 string.
func generateUUID() string {
	return uuid.New().String()
}

// NewRequestID returns a fresh request identifier with the current
// timestamp, used when a client does not supply one.
func NewRequestID() (string, int64) {
	return generateUUID(), time.Now().UnixMilli()
}
