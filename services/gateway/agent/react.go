// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// DefaultSystemPrompt is used when settings do not override it.
const DefaultSystemPrompt = "You are Aleutian Studio, a helpful assistant. " +
	"Answer clearly and concisely. Use the available tools when a question " +
	"needs current information you do not have."

const (
	nodeAgent = "agent"
	nodeTools = "tools"
)

// ReActAgent alternates model turns with tool execution until the model
// answers without requesting a tool.
type ReActAgent struct {
	client llm.Client
	opts   Options
	tools  []*Tool
	graph  *StateGraph
}

// NewReActAgent builds the agent<->tools loop.
func NewReActAgent(client llm.Client, opts Options) *ReActAgent {
	a := &ReActAgent{client: client, opts: opts, tools: opts.Tools}
	if a.tools == nil {
		a.tools = BuiltinTools()
	}

	g := NewStateGraph(opts.MaxSteps)
	g.AddNode(nodeAgent, "Agent", a.agentNode)
	g.AddNode(nodeTools, "Tools", a.toolsNode)
	g.SetEntry(nodeAgent)
	g.AddConditionalEdge(nodeAgent, routeAfterModelTurn, map[string]string{
		"tools": nodeTools,
		"end":   EndNode,
	})
	g.AddEdge(nodeTools, nodeAgent)
	a.graph = g
	return a
}

// Run implements the Runner interface.
func (a *ReActAgent) Run(ctx context.Context, state *State, sink EventSink) error {
	ensureSystemPrompt(state, a.opts.SystemPrompt)
	return a.graph.Run(ctx, state, sink)
}

// Graph implements the Runner interface.
func (a *ReActAgent) Graph() *StateGraph { return a.graph }

func routeAfterModelTurn(s *State) string {
	if len(s.PendingToolCalls) > 0 {
		return "tools"
	}
	return "end"
}

// agentNode makes one streaming model turn with tools offered.
func (a *ReActAgent) agentNode(ctx context.Context, s *State, sink EventSink) error {
	params := a.opts.Params
	params.Tools = toolDefinitions(a.tools)

	result, err := a.client.ChatStream(ctx, s.Messages, params, func(event llm.StreamEvent) error {
		if event.Type == llm.StreamEventToken {
			return sink.Token(event.Content)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Usage.Add(result.Usage)
	recordModelTurn(s, result)
	return nil
}

// toolsNode executes every pending call and appends the results as tool
// messages for the next model turn.
func (a *ReActAgent) toolsNode(ctx context.Context, s *State, sink EventSink) error {
	return executeToolCalls(ctx, s, sink, a.tools)
}

// recordModelTurn appends the assistant turn to the transcript and stages
// any tool calls it requested.
func recordModelTurn(s *State, result *llm.ChatResult) {
	msg := datatypes.Message{
		Role:      "assistant",
		Content:   result.Content,
		ToolCalls: result.ToolCalls,
	}
	s.Messages = append(s.Messages, msg)
	s.PendingToolCalls = result.ToolCalls
	if len(result.ToolCalls) == 0 {
		s.FinalContent = result.Content
	}
}

func executeToolCalls(ctx context.Context, s *State, sink EventSink, tools []*Tool) error {
	calls := s.PendingToolCalls
	s.PendingToolCalls = nil
	for _, call := range calls {
		if err := sink.ToolStart(call.Name, call.Arguments); err != nil {
			return err
		}
		output := runTool(ctx, tools, call)
		if err := sink.ToolEnd(call.Name, output); err != nil {
			return err
		}
		s.Messages = append(s.Messages, datatypes.Message{
			Role:       "tool",
			Name:       call.Name,
			Content:    output,
			ToolCallID: call.ID,
		})
	}
	return nil
}

// runTool never fails the run: a tool error becomes the tool output so
// the model can recover or apologize.
func runTool(ctx context.Context, tools []*Tool, call datatypes.ToolCall) string {
	tool, ok := findTool(tools, call.Name)
	if !ok {
		slog.Warn("Model requested unknown tool", "tool", call.Name)
		return fmt.Sprintf(`{"error": "unknown tool %q"}`, call.Name)
	}
	output, err := tool.Execute(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		slog.Warn("Tool execution failed", "tool", call.Name, "error", err)
		escaped, _ := json.Marshal(err.Error())
		return fmt.Sprintf(`{"error": %s}`, escaped)
	}
	return output
}
