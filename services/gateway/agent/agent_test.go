// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// scriptedTurn is one canned model response.
type scriptedTurn struct {
	content   string
	toolCalls []datatypes.ToolCall
}

// mockClient replays scripted turns. ChatStream emits the content word
// by word through the callback before returning.
type mockClient struct {
	turns []scriptedTurn
	calls int
}

func (m *mockClient) Profile() llm.Profile {
	return llm.Profile{Name: "mock", Provider: "ollama", Model: "mock-model"}
}

func (m *mockClient) nextTurn() (scriptedTurn, error) {
	if m.calls >= len(m.turns) {
		return scriptedTurn{}, fmt.Errorf("mock client exhausted after %d calls", m.calls)
	}
	turn := m.turns[m.calls]
	m.calls++
	return turn, nil
}

func (m *mockClient) Chat(_ context.Context, _ []datatypes.Message,
	_ llm.GenerationParams) (*llm.ChatResult, error) {
	turn, err := m.nextTurn()
	if err != nil {
		return nil, err
	}
	return &llm.ChatResult{
		Content:   turn.content,
		ToolCalls: turn.toolCalls,
		Usage:     datatypes.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *mockClient) ChatStream(_ context.Context, _ []datatypes.Message,
	_ llm.GenerationParams, callback llm.StreamCallback) (*llm.ChatResult, error) {
	turn, err := m.nextTurn()
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(turn.content, " ") {
		if word == "" {
			continue
		}
		if cbErr := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: word}); cbErr != nil {
			return nil, cbErr
		}
	}
	return &llm.ChatResult{
		Content:   turn.content,
		ToolCalls: turn.toolCalls,
		Usage:     datatypes.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

// recordedEvent captures one sink call for assertions.
type recordedEvent struct {
	kind    string
	name    string
	content string
}

// recordingSink collects every event. tokenErr, when set, is returned
// from Token to simulate a dropped client.
type recordingSink struct {
	events   []recordedEvent
	tokenErr error
}

func (r *recordingSink) Token(content string) error {
	if r.tokenErr != nil {
		return r.tokenErr
	}
	r.events = append(r.events, recordedEvent{kind: "token", content: content})
	return nil
}

func (r *recordingSink) NodeStart(name string) error {
	r.events = append(r.events, recordedEvent{kind: "node_start", name: name})
	return nil
}

func (r *recordingSink) NodeEnd(name string) error {
	r.events = append(r.events, recordedEvent{kind: "node_end", name: name})
	return nil
}

func (r *recordingSink) ToolStart(name, input string) error {
	r.events = append(r.events, recordedEvent{kind: "tool_start", name: name, content: input})
	return nil
}

func (r *recordingSink) ToolEnd(name, output string) error {
	r.events = append(r.events, recordedEvent{kind: "tool_end", name: name, content: output})
	return nil
}

func (r *recordingSink) PlanCreated(plan []datatypes.PlanStep) error {
	r.events = append(r.events, recordedEvent{kind: "plan_created", content: fmt.Sprintf("%d", len(plan))})
	return nil
}

func (r *recordingSink) PlanStepCompleted(stepNumber int, description string) error {
	r.events = append(r.events, recordedEvent{kind: "plan_step_completed", name: description,
		content: fmt.Sprintf("%d", stepNumber)})
	return nil
}

func (r *recordingSink) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.kind)
	}
	return out
}

func (r *recordingSink) tokens() string {
	var b strings.Builder
	for _, e := range r.events {
		if e.kind == "token" {
			b.WriteString(e.content)
		}
	}
	return b.String()
}

func userState(content string) *State {
	return &State{Messages: []datatypes.Message{
		{Role: "system", Content: DefaultSystemPrompt},
		{Role: "user", Content: content},
	}}
}

// TestBasicAgent_StreamsAnswer verifies the single-turn path.
func TestBasicAgent_StreamsAnswer(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{{content: "Hello there"}}}
	a := NewBasicAgent(client, Options{})
	sink := &recordingSink{}
	state := userState("hi")

	require.NoError(t, a.Run(context.Background(), state, sink))
	assert.Equal(t, "Hello there", state.FinalContent)
	assert.Equal(t, "Hello there", sink.tokens())
	assert.Equal(t, []string{"node_start", "token", "token", "node_end"}, sink.kinds())
	assert.Equal(t, 10, state.Usage.InputTokens)
}

// TestReActAgent_ToolLoop verifies a tool round trip: the model requests
// a tool, the result is fed back, and the second turn answers.
func TestReActAgent_ToolLoop(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{
		{toolCalls: []datatypes.ToolCall{{
			ID: "call_1", Name: "get_current_time", Arguments: `{}`,
		}}},
		{content: "It is Tuesday."},
	}}
	a := NewReActAgent(client, Options{})
	sink := &recordingSink{}
	state := userState("what day is it?")

	require.NoError(t, a.Run(context.Background(), state, sink))
	assert.Equal(t, "It is Tuesday.", state.FinalContent)
	assert.Equal(t, 2, client.calls)

	kinds := sink.kinds()
	assert.Contains(t, kinds, "tool_start")
	assert.Contains(t, kinds, "tool_end")

	// The transcript records assistant tool request, tool result, answer.
	n := len(state.Messages)
	require.GreaterOrEqual(t, n, 4)
	assert.Equal(t, "assistant", state.Messages[n-1].Role)
	assert.Equal(t, "tool", state.Messages[n-2].Role)
	assert.Equal(t, "call_1", state.Messages[n-2].ToolCallID)
	assert.Equal(t, "get_current_time", state.Messages[n-2].Name)
}

// TestReActAgent_UnknownTool verifies an unknown tool becomes an error
// payload for the model instead of failing the run.
func TestReActAgent_UnknownTool(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{
		{toolCalls: []datatypes.ToolCall{{ID: "call_1", Name: "launch_rocket", Arguments: `{}`}}},
		{content: "I cannot do that."},
	}}
	a := NewReActAgent(client, Options{})
	sink := &recordingSink{}
	state := userState("launch a rocket")

	require.NoError(t, a.Run(context.Background(), state, sink))
	assert.Equal(t, "I cannot do that.", state.FinalContent)

	var toolOutput string
	for _, e := range sink.events {
		if e.kind == "tool_end" {
			toolOutput = e.content
		}
	}
	assert.Contains(t, toolOutput, "unknown tool")
}

// TestReActAgent_SinkErrorAborts verifies a failing sink stops the run,
// which is how client disconnects cancel generation.
func TestReActAgent_SinkErrorAborts(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{{content: "long answer here"}}}
	a := NewReActAgent(client, Options{})
	sink := &recordingSink{tokenErr: errors.New("client gone")}
	state := userState("hi")

	err := a.Run(context.Background(), state, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client gone")
}

// TestReActAgent_MaxSteps verifies a model that never stops requesting
// tools hits the step limit.
func TestReActAgent_MaxSteps(t *testing.T) {
	t.Parallel()
	turns := make([]scriptedTurn, 20)
	for i := range turns {
		turns[i] = scriptedTurn{toolCalls: []datatypes.ToolCall{{
			ID: fmt.Sprintf("call_%d", i), Name: "get_current_time", Arguments: `{}`,
		}}}
	}
	client := &mockClient{turns: turns}
	a := NewReActAgent(client, Options{MaxSteps: 5})
	state := userState("loop forever")

	err := a.Run(context.Background(), state, &recordingSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum of 5 steps")
}

// TestPlanAgent_CreatesAndExecutesPlan verifies the full plan flow: the
// decision call is suppressed, the plan is announced, steps stream and
// complete in order.
func TestPlanAgent_CreatesAndExecutesPlan(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{
		// Decision turn (non-streaming, suppressed).
		{content: `{"needs_plan": true, "steps": ["look up the time", "summarize"]}`},
		{content: "The time is noon."},
		{content: "In short: noon."},
	}}
	a := NewPlanAgent(client, Options{})
	sink := &recordingSink{}
	state := userState("what time is it, summarized?")

	require.NoError(t, a.Run(context.Background(), state, sink))

	// The decision JSON never reaches the token stream.
	assert.NotContains(t, sink.tokens(), "needs_plan")
	assert.Equal(t, "The time is noon.\n\nIn short: noon.", state.FinalContent)

	kinds := sink.kinds()
	assert.Contains(t, kinds, "plan_created")
	completions := 0
	for _, e := range sink.events {
		if e.kind == "plan_step_completed" {
			completions++
		}
	}
	assert.Equal(t, 2, completions)
	for _, step := range state.Plan {
		assert.Equal(t, stepStatusCompleted, step.Status)
	}
}

// TestPlanAgent_NoPlanNeeded verifies a direct answer when the decision
// says no plan.
func TestPlanAgent_NoPlanNeeded(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{
		{content: `{"needs_plan": false, "steps": []}`},
		{content: "Just the answer."},
	}}
	a := NewPlanAgent(client, Options{})
	sink := &recordingSink{}
	state := userState("hi")

	require.NoError(t, a.Run(context.Background(), state, sink))
	assert.Empty(t, state.Plan)
	assert.Equal(t, "Just the answer.", state.FinalContent)
	assert.NotContains(t, sink.kinds(), "plan_created")
}

// TestPlanAgent_MalformedDecision verifies a garbage decision downgrades
// to a direct answer.
func TestPlanAgent_MalformedDecision(t *testing.T) {
	t.Parallel()
	client := &mockClient{turns: []scriptedTurn{
		{content: "I think a plan would be nice, maybe?"},
		{content: "Direct answer."},
	}}
	a := NewPlanAgent(client, Options{})
	state := userState("hi")

	require.NoError(t, a.Run(context.Background(), state, &recordingSink{}))
	assert.Empty(t, state.Plan)
	assert.Equal(t, "Direct answer.", state.FinalContent)
}

// TestParsePlanDecision_CodeFences verifies fenced JSON parses.
func TestParsePlanDecision_CodeFences(t *testing.T) {
	t.Parallel()
	decision, err := parsePlanDecision("```json\n{\"needs_plan\": true, \"steps\": [\"a\"]}\n```")
	require.NoError(t, err)
	assert.True(t, decision.NeedsPlan)
	assert.Equal(t, []string{"a"}, decision.Steps)
}

// TestStructure_ReAct verifies the exported topology for rendering.
func TestStructure_ReAct(t *testing.T) {
	t.Parallel()
	structure, err := Structure(datatypes.AgentReAct)
	require.NoError(t, err)

	ids := make([]string, 0, len(structure.Nodes))
	for _, n := range structure.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{StartNode, "agent", "tools", EndNode}, ids)
	assert.Equal(t, "start", structure.Nodes[0].Type)
	assert.Equal(t, "end", structure.Nodes[len(structure.Nodes)-1].Type)

	conditional := 0
	for _, e := range structure.Edges {
		if e.Conditional {
			conditional++
		}
	}
	assert.Equal(t, 2, conditional)
}

// TestStructure_Deterministic verifies conditional edges come out in a
// stable label order on every call.
func TestStructure_Deterministic(t *testing.T) {
	t.Parallel()
	first, err := Structure(datatypes.AgentReAct)
	require.NoError(t, err)

	labels := make([]string, 0, len(first.Edges))
	for _, e := range first.Edges {
		if e.Conditional {
			labels = append(labels, e.Label)
		}
	}
	assert.True(t, sort.StringsAreSorted(labels), "conditional edges sorted by label, got %v", labels)

	for i := 0; i < 10; i++ {
		again, err := Structure(datatypes.AgentReAct)
		require.NoError(t, err)
		assert.Equal(t, first.Edges, again.Edges)
	}
}

// TestStructure_UnknownType verifies the error path.
func TestStructure_UnknownType(t *testing.T) {
	t.Parallel()
	_, err := Structure(datatypes.AgentType("mystery"))
	require.Error(t, err)
}
