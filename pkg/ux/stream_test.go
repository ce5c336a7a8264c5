// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseBody renders events as the gateway writes them, hashing each one
// into a valid chain.
func sseBody(t *testing.T, events ...StreamEvent) string {
	t.Helper()
	chained := buildChain(events...)

	var sb strings.Builder
	for _, event := range chained {
		data, err := json.Marshal(event)
		require.NoError(t, err)
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", event.Type, data)
	}
	return sb.String()
}

func TestStreamProcessor_TokensAccumulate(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "sess-42"},
		StreamEvent{Type: StreamEventToken, Content: "Hello"},
		StreamEvent{Type: StreamEventToken, Content: ", "},
		StreamEvent{Type: StreamEventToken, Content: "world"},
		StreamEvent{Type: StreamEventEnd, Status: "complete", SessionId: "sess-42"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", result.Answer)
	assert.Equal(t, "sess-42", result.SessionID)
	require.NotNil(t, result.Integrity)
	assert.True(t, result.Integrity.Valid)
	assert.Equal(t, 5, result.Integrity.ChainLength)
}

func TestStreamProcessor_MachineModeOutput(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventNodeStart, Node: "agent"},
		StreamEvent{Type: StreamEventToolStart, Tool: "calculator", ToolInput: "2+2"},
		StreamEvent{Type: StreamEventToken, Content: "4"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "STATUS: Thinking...")
	assert.Contains(t, out.String(), "AGENT:")
	assert.Contains(t, out.String(), "calculator")
	assert.Contains(t, out.String(), "ANSWER: 4")
	assert.Equal(t, "4", result.Answer)
}

func TestStreamProcessor_PlanEvents(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventPlan, Plan: []PlanStep{
			{StepNumber: 1, Description: "look up the answer", Status: "pending"},
			{StepNumber: 2, Description: "respond", Status: "pending"},
		}},
		StreamEvent{Type: StreamEventPlanStep, StepNumber: 1, Description: "look up the answer"},
		StreamEvent{Type: StreamEventToken, Content: "done"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "PLAN: 1 look up the answer")
	assert.Contains(t, out.String(), "PLAN: 2 respond")
	assert.True(t, result.Integrity.Valid)
}

func TestStreamProcessor_ErrorEvent(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventError, Error: "model unavailable"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Nil(t, result)
}

func TestStreamProcessor_KeepaliveIgnored(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventToken, Content: "hi"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)
	// Keepalive comments do not participate in the hash chain.
	body = strings.Replace(body, "event: token", ": ping\n\nevent: token", 1)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, "hi", result.Answer)
	assert.True(t, result.Integrity.Valid)
}

func TestStreamProcessor_TruncatedStream(t *testing.T) {
	body := sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s7"},
		StreamEvent{Type: StreamEventToken, Content: "partial"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, "partial", result.Answer)
	assert.Equal(t, "s7", result.SessionID)
	assert.True(t, result.Integrity.Valid)
	assert.Equal(t, 2, result.Integrity.ChainLength)
}

func TestStreamProcessor_DetectsTamperedToken(t *testing.T) {
	chained := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventToken, Content: "genuine"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)
	chained[1].Content = "forged"

	var sb strings.Builder
	for _, event := range chained {
		data, err := json.Marshal(event)
		require.NoError(t, err)
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", event.Type, data)
	}

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(sb.String()))

	require.NoError(t, err)
	require.NotNil(t, result.Integrity)
	assert.False(t, result.Integrity.Valid)
	assert.Equal(t, 1, result.Integrity.InvalidEventIndex)
}

func TestStreamProcessor_MalformedDataSkipped(t *testing.T) {
	body := "data: {not json}\n\n" + sseBody(t,
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "s1"},
		StreamEvent{Type: StreamEventToken, Content: "ok"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)

	var out bytes.Buffer
	processor := NewStreamProcessorWithWriter(&out, PersonalityMachine)
	result, err := processor.Process(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, "ok", result.Answer)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-te", truncate("exactly-te", 10))
	assert.Equal(t, "this is lo...", truncate("this is longer", 10))
}
