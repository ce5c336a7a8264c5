// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// SSEWriter writes chat stream events to an HTTP response in SSE format.
//
// # Description
//
// Each event is written as "event: {type}\ndata: {json}\n\n" and flushed
// immediately. The writer assigns every event an Id (UUID v4), CreatedAt
// (Unix milliseconds), a SHA-256 Hash of its content, and the PrevHash
// of the preceding event, so a client can verify nothing was dropped or
// reordered in transit.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: the keepalive
// goroutine writes alongside the agent's event stream.
type SSEWriter interface {
	// WriteEvent writes one event, populating Id, CreatedAt, Hash, and
	// PrevHash before serializing.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStart announces the stream with the session id the request
	// resolved to.
	WriteStart(sessionID string) error

	// WriteToken streams one token of assistant output.
	WriteToken(content string) error

	// WriteNodeStart and WriteNodeEnd bracket an agent graph node.
	WriteNodeStart(node string) error
	WriteNodeEnd(node string) error

	// WriteToolStart and WriteToolEnd bracket a tool execution.
	WriteToolStart(tool, input string) error
	WriteToolEnd(tool, output string) error

	// WritePlanCreated announces the plan agent's step list.
	WritePlanCreated(plan []datatypes.PlanStep) error

	// WritePlanStepCompleted marks one plan step done.
	WritePlanStepCompleted(stepNumber int, description string) error

	// WriteError reports a failure. The message must already be
	// sanitized for the client.
	WriteError(errMsg string) error

	// WriteEnd terminates a successful stream. Exactly one of WriteEnd
	// or WriteError closes every stream.
	WriteEnd(sessionID string) error

	// WriteKeepAlive sends an SSE comment to reset proxy idle timers.
	// Comments are not events and do not advance the hash chain.
	WriteKeepAlive() error
}

// sseWriter is the http.ResponseWriter-backed implementation.
//
// The mutex protects both the underlying writer and the hash chain, so
// concurrent writers interleave whole events rather than bytes.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter wraps a ResponseWriter for SSE. The caller must have set
// the SSE headers first (see SetSSEHeaders) and the writer must support
// http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes every content-bearing field so the chain
// covers tokens, tool payloads, and plan updates alike. Call with the
// Hash field still empty.
func computeEventHash(event datatypes.StreamEvent) string {
	planJSON := ""
	if len(event.Plan) > 0 {
		if data, err := json.Marshal(event.Plan); err == nil {
			planJSON = string(data)
		}
	}
	hashInput := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s|%s|%s|%d|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.Status,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Node,
		event.Tool,
		event.ToolInput,
		event.ToolOutput,
		event.StepNumber,
		event.Description,
		event.SessionId,
		event.Error,
		planJSON,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteStart(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventStart,
		Status:    "started",
		SessionId: sessionID,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.StreamEventToken,
		Content: content,
	})
}

func (w *sseWriter) WriteNodeStart(node string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.StreamEventNodeStart,
		Node: node,
	})
}

func (w *sseWriter) WriteNodeEnd(node string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.StreamEventNodeEnd,
		Node: node,
	})
}

func (w *sseWriter) WriteToolStart(tool, input string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventToolStart,
		Tool:      tool,
		ToolInput: input,
	})
}

func (w *sseWriter) WriteToolEnd(tool, output string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:       datatypes.StreamEventToolEnd,
		Tool:       tool,
		ToolOutput: output,
	})
}

func (w *sseWriter) WritePlanCreated(plan []datatypes.PlanStep) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.StreamEventPlanCreated,
		Plan: plan,
	})
}

func (w *sseWriter) WritePlanStepCompleted(stepNumber int, description string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:        datatypes.StreamEventPlanStep,
		StepNumber:  stepNumber,
		Description: description,
	})
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.StreamEventError,
		Error: errMsg,
	})
}

func (w *sseWriter) WriteEnd(sessionID string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventEnd,
		Status:    "completed",
		SessionId: sessionID,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must run
// before any body bytes are written. X-Accel-Buffering disables nginx
// proxy buffering.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
