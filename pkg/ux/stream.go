// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// StreamEventType represents the type of streaming event
type StreamEventType string

const (
	StreamEventStart     StreamEventType = "start"
	StreamEventToken     StreamEventType = "token"
	StreamEventNodeStart StreamEventType = "node_start"
	StreamEventNodeEnd   StreamEventType = "node_end"
	StreamEventToolStart StreamEventType = "tool_start"
	StreamEventToolEnd   StreamEventType = "tool_end"
	StreamEventPlan      StreamEventType = "plan_created"
	StreamEventPlanStep  StreamEventType = "plan_step_completed"
	StreamEventEnd       StreamEventType = "end"
	StreamEventError     StreamEventType = "error"
)

// PlanStep mirrors one step of the plan agent's step list. The JSON
// tags must match the gateway's wire format so recomputed event hashes
// agree.
type PlanStep struct {
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// StreamEvent represents a single streaming event from the gateway.
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

	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// StreamResult contains the complete result of processing a stream
type StreamResult struct {
	Answer    string
	SessionID string

	// Integrity holds the hash chain verification outcome for the
	// events received on this stream.
	Integrity *ChainVerificationResult
}

// StreamProcessor defines the interface for processing streaming responses.
type StreamProcessor interface {
	// Process reads a streaming response from the reader, rendering
	// events as they arrive. Returns the complete answer, the session
	// ID, and the chain verification result.
	Process(reader io.Reader) (*StreamResult, error)
}

// sseStreamProcessor implements StreamProcessor for Server-Sent Events
type sseStreamProcessor struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	answer      strings.Builder
	sessionID   string
	events      []StreamEvent
	verifier    ChainVerifier
}

// NewStreamProcessor creates a new SSE stream processor
func NewStreamProcessor() StreamProcessor {
	return &sseStreamProcessor{
		writer:      os.Stdout,
		personality: GetPersonality().Level,
		verifier:    NewFullChainVerifier(),
	}
}

// NewStreamProcessorWithWriter creates a stream processor with custom writer (for testing)
func NewStreamProcessorWithWriter(w io.Writer, personality PersonalityLevel) StreamProcessor {
	return &sseStreamProcessor{
		writer:      w,
		personality: personality,
		verifier:    NewFullChainVerifier(),
	}
}

// Process reads and processes a streaming response
func (p *sseStreamProcessor) Process(reader io.Reader) (*StreamResult, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// Keepalive comments and blank separators carry no payload.
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
			continue
		}

		// The event name is repeated inside the JSON payload, so the
		// "event:" line itself needs no handling.
		if strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")

		var event StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		p.events = append(p.events, event)

		switch event.Type {
		case StreamEventStart:
			p.sessionID = event.SessionId
			p.handleStatus("Thinking...")
		case StreamEventToken:
			p.handleToken(event.Content)
		case StreamEventNodeStart:
			p.handleActivity(fmt.Sprintf("%s %s", IconArrow, event.Node))
		case StreamEventNodeEnd:
			// End markers stay silent; the next activity line replaces them.
		case StreamEventToolStart:
			p.handleActivity(fmt.Sprintf("%s %s(%s)", IconTool, event.Tool, truncate(event.ToolInput, 60)))
		case StreamEventToolEnd:
			p.handleActivity(fmt.Sprintf("%s %s done", IconTool, event.Tool))
		case StreamEventPlan:
			p.handlePlan(event.Plan)
		case StreamEventPlanStep:
			p.handleActivity(fmt.Sprintf("%s step %d: %s", IconSuccess, event.StepNumber, event.Description))
		case StreamEventEnd:
			if event.SessionId != "" {
				p.sessionID = event.SessionId
			}
			p.finalize()
			return p.result(), nil
		case StreamEventError:
			p.finalize()
			return nil, fmt.Errorf("%s", event.Error)
		}
	}

	if err := scanner.Err(); err != nil {
		p.finalize()
		return nil, err
	}

	// Stream ended without a terminal event (connection dropped).
	p.finalize()
	return p.result(), nil
}

func (p *sseStreamProcessor) result() *StreamResult {
	return &StreamResult{
		Answer:    p.answer.String(),
		SessionID: p.sessionID,
		Integrity: p.verifier.Verify(p.events),
	}
}

func (p *sseStreamProcessor) handleStatus(message string) {
	if p.personality == PersonalityMachine {
		fmt.Fprintf(p.writer, "STATUS: %s\n", message)
		return
	}

	if p.spinner == nil {
		p.spinner = NewSpinner(message)
		p.spinner.Start()
	} else {
		p.spinner.UpdateMessage(message)
	}
}

// handleActivity renders agent node/tool/plan progress lines.
func (p *sseStreamProcessor) handleActivity(line string) {
	switch p.personality {
	case PersonalityMachine:
		fmt.Fprintf(p.writer, "AGENT: %s\n", line)
	case PersonalityMinimal:
		// Minimal mode shows tokens only.
	default:
		p.stopSpinner()
		fmt.Fprintln(p.writer, Styles.Muted.Render(line))
	}
}

func (p *sseStreamProcessor) handlePlan(plan []PlanStep) {
	if p.personality == PersonalityMachine {
		for _, step := range plan {
			fmt.Fprintf(p.writer, "PLAN: %d %s\n", step.StepNumber, step.Description)
		}
		return
	}
	if p.personality == PersonalityMinimal {
		return
	}
	p.stopSpinner()
	for _, step := range plan {
		fmt.Fprintln(p.writer, Styles.Muted.Render(
			fmt.Sprintf("%s %d. %s", IconPending, step.StepNumber, step.Description)))
	}
}

func (p *sseStreamProcessor) handleToken(token string) {
	p.stopSpinner()
	p.answer.WriteString(token)

	if p.personality == PersonalityMachine {
		// In machine mode, buffer until done.
		return
	}
	fmt.Fprint(p.writer, token)
}

func (p *sseStreamProcessor) stopSpinner() {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
		if p.personality != PersonalityMachine {
			fmt.Fprintln(p.writer)
		}
	}
}

func (p *sseStreamProcessor) finalize() {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}

	if p.personality == PersonalityMachine {
		if p.answer.Len() > 0 {
			fmt.Fprintf(p.writer, "ANSWER: %s\n", p.answer.String())
		}
	} else if p.answer.Len() > 0 && !strings.HasSuffix(p.answer.String(), "\n") {
		fmt.Fprintln(p.writer)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
