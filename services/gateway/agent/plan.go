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
	"strings"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

const (
	nodeQuery    = "query"
	nodePlanMain = "main"
	nodePlanTool = "tool"

	// planDecisionPrompt asks the model whether the request needs a plan.
	// Its output is consumed internally and never streamed to the client.
	planDecisionPrompt = `Decide whether the user's request needs a multi-step plan.
Simple questions need no plan. Requests that combine several actions or
lookups do. Respond with ONLY a JSON object, no prose:
{"needs_plan": true|false, "steps": ["first step", "second step"]}
Use an empty steps array when needs_plan is false. Keep steps short and
concrete, at most 6.`
)

const (
	stepStatusPending   = "pending"
	stepStatusCompleted = "completed"
)

// PlanAgent decomposes a request into steps, then works through them one
// at a time with tools. Requests that need no plan fall through to a
// direct answer.
type PlanAgent struct {
	client llm.Client
	opts   Options
	tools  []*Tool
	graph  *StateGraph
}

// NewPlanAgent builds the query -> main <-> tool topology.
func NewPlanAgent(client llm.Client, opts Options) *PlanAgent {
	a := &PlanAgent{client: client, opts: opts, tools: opts.Tools}
	if a.tools == nil {
		a.tools = BuiltinTools()
	}

	g := NewStateGraph(opts.MaxSteps)
	g.AddNode(nodeQuery, "Plan Query", a.queryNode)
	g.AddNode(nodePlanMain, "Main", a.mainNode)
	g.AddNode(nodePlanTool, "Tool", a.toolNode)
	g.SetEntry(nodeQuery)
	g.AddEdge(nodeQuery, nodePlanMain)
	g.AddConditionalEdge(nodePlanMain, a.routeAfterMain, map[string]string{
		"tool":     nodePlanTool,
		"continue": nodePlanMain,
		"end":      EndNode,
	})
	g.AddEdge(nodePlanTool, nodePlanMain)
	a.graph = g
	return a
}

// Run implements the Runner interface.
func (a *PlanAgent) Run(ctx context.Context, state *State, sink EventSink) error {
	ensureSystemPrompt(state, a.opts.SystemPrompt)
	return a.graph.Run(ctx, state, sink)
}

// Graph implements the Runner interface.
func (a *PlanAgent) Graph() *StateGraph { return a.graph }

// queryNode decides whether a plan is needed. The decision call is
// non-streaming so its JSON never reaches the client as tokens.
func (a *PlanAgent) queryNode(ctx context.Context, s *State, sink EventSink) error {
	decisionMessages := append([]datatypes.Message{}, s.Messages...)
	decisionMessages = append(decisionMessages, datatypes.Message{
		Role:    "system",
		Content: planDecisionPrompt,
	})

	result, err := a.client.Chat(ctx, decisionMessages, a.opts.Params)
	if err != nil {
		return err
	}
	s.Usage.Add(result.Usage)

	decision, err := parsePlanDecision(result.Content)
	if err != nil {
		// A malformed decision downgrades to a direct answer rather than
		// failing the whole request.
		slog.Warn("Plan decision was not valid JSON, answering directly", "error", err)
		return nil
	}
	if !decision.NeedsPlan || len(decision.Steps) == 0 {
		return nil
	}

	for i, step := range decision.Steps {
		s.Plan = append(s.Plan, datatypes.PlanStep{
			StepNumber:  i + 1,
			Description: step,
			Status:      stepStatusPending,
		})
	}
	slog.Info("Plan created", "steps", len(s.Plan))
	return sink.PlanCreated(s.Plan)
}

// mainNode makes one streaming model turn. With a plan, the turn is
// scoped to the current step; a turn that requests no tools completes
// the step.
func (a *PlanAgent) mainNode(ctx context.Context, s *State, sink EventSink) error {
	params := a.opts.Params
	params.Tools = toolDefinitions(a.tools)

	messages := s.Messages
	if s.CurrentStep < len(s.Plan) {
		step := s.Plan[s.CurrentStep]
		messages = append(append([]datatypes.Message{}, s.Messages...), datatypes.Message{
			Role: "system",
			Content: fmt.Sprintf(
				"You are executing step %d of %d: %s. Earlier steps are done. Address only this step.",
				step.StepNumber, len(s.Plan), step.Description),
		})
	}

	result, err := a.client.ChatStream(ctx, messages, params, func(event llm.StreamEvent) error {
		if event.Type == llm.StreamEventToken {
			return sink.Token(event.Content)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Usage.Add(result.Usage)

	s.Messages = append(s.Messages, datatypes.Message{
		Role:      "assistant",
		Content:   result.Content,
		ToolCalls: result.ToolCalls,
	})
	s.PendingToolCalls = result.ToolCalls
	if len(result.ToolCalls) > 0 {
		return nil
	}

	if s.FinalContent != "" && result.Content != "" {
		s.FinalContent += "\n\n"
	}
	s.FinalContent += result.Content

	if s.CurrentStep < len(s.Plan) {
		step := &s.Plan[s.CurrentStep]
		step.Status = stepStatusCompleted
		s.CurrentStep++
		return sink.PlanStepCompleted(step.StepNumber, step.Description)
	}
	return nil
}

func (a *PlanAgent) toolNode(ctx context.Context, s *State, sink EventSink) error {
	return executeToolCalls(ctx, s, sink, a.tools)
}

func (a *PlanAgent) routeAfterMain(s *State) string {
	if len(s.PendingToolCalls) > 0 {
		return "tool"
	}
	if s.CurrentStep < len(s.Plan) {
		return "continue"
	}
	return "end"
}

type planDecision struct {
	NeedsPlan bool     `json:"needs_plan"`
	Steps     []string `json:"steps"`
}

// parsePlanDecision tolerates markdown code fences around the JSON.
func parsePlanDecision(content string) (*planDecision, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	// Some models wrap the object in prose despite instructions.
	if start := strings.Index(trimmed, "{"); start > 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var decision planDecision
	if err := json.Unmarshal([]byte(trimmed), &decision); err != nil {
		return nil, fmt.Errorf("plan decision is not valid JSON: %w", err)
	}
	return &decision, nil
}
