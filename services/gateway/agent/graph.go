// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs tool-using chat agents as small state graphs.
//
// A graph is a set of named nodes connected by plain or conditional
// edges. Each node mutates the shared State; conditional edges pick the
// next node from the state after their source node ran. Execution starts
// at the entry node and finishes when a node routes to EndNode. The graph
// shape is exported for clients that want to render it.
package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

const (
	// StartNode and EndNode are pseudo-nodes bounding every graph.
	StartNode = "__start__"
	EndNode   = "__end__"

	// DefaultMaxSteps bounds the node loop when no limit is configured.
	DefaultMaxSteps = 25
)

// State carries the conversation through the graph.
type State struct {
	// Messages is the working transcript sent to the model, including
	// tool results appended mid-run.
	Messages []datatypes.Message

	// PendingToolCalls holds calls requested by the last model turn that
	// the tool node has not executed yet.
	PendingToolCalls []datatypes.ToolCall

	// Plan and CurrentStep track plan-mode execution.
	Plan        []datatypes.PlanStep
	CurrentStep int

	// FinalContent is the assistant's answer once a model turn finishes
	// without requesting tools.
	FinalContent string

	// Usage accumulates token counts across every model call in the run.
	Usage datatypes.TokenUsage
}

// NodeFunc is one unit of agent work. The sink receives tokens and tool
// events produced while the node runs.
type NodeFunc func(ctx context.Context, s *State, sink EventSink) error

type graphNode struct {
	name  string
	label string
	fn    NodeFunc
}

type conditionalEdge struct {
	decide  func(s *State) string
	targets map[string]string
}

// StateGraph is a compiled agent topology.
type StateGraph struct {
	entry       string
	nodes       map[string]*graphNode
	order       []string
	edges       map[string]string
	conditional map[string]*conditionalEdge
	maxSteps    int
}

// NewStateGraph creates an empty graph. maxSteps <= 0 uses
// DefaultMaxSteps.
func NewStateGraph(maxSteps int) *StateGraph {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &StateGraph{
		nodes:       make(map[string]*graphNode),
		edges:       make(map[string]string),
		conditional: make(map[string]*conditionalEdge),
		maxSteps:    maxSteps,
	}
}

// AddNode registers a node. The label is what graph renderings display.
func (g *StateGraph) AddNode(name, label string, fn NodeFunc) {
	g.nodes[name] = &graphNode{name: name, label: label, fn: fn}
	g.order = append(g.order, name)
}

// SetEntry marks the node execution starts at.
func (g *StateGraph) SetEntry(name string) { g.entry = name }

// AddEdge connects from to a fixed successor.
func (g *StateGraph) AddEdge(from, to string) { g.edges[from] = to }

// AddConditionalEdge routes from via decide. The returned label is looked
// up in targets to find the successor node.
func (g *StateGraph) AddConditionalEdge(from string, decide func(s *State) string, targets map[string]string) {
	g.conditional[from] = &conditionalEdge{decide: decide, targets: targets}
}

// Run executes the graph until a node routes to EndNode. Node boundaries
// are reported to the sink. The step limit keeps a looping model from
// running forever.
func (g *StateGraph) Run(ctx context.Context, state *State, sink EventSink) error {
	if g.entry == "" {
		return fmt.Errorf("graph has no entry node")
	}
	current := g.entry
	steps := 0
	for current != EndNode {
		if err := ctx.Err(); err != nil {
			return err
		}
		steps++
		if steps > g.maxSteps {
			return fmt.Errorf("agent exceeded the maximum of %d steps", g.maxSteps)
		}
		node, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("graph routed to unknown node %q", current)
		}

		if err := sink.NodeStart(node.name); err != nil {
			return err
		}
		runErr := node.fn(ctx, state, sink)
		if sinkErr := sink.NodeEnd(node.name); sinkErr != nil && runErr == nil {
			return sinkErr
		}
		if runErr != nil {
			return runErr
		}

		next, err := g.next(current, state)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// ensureSystemPrompt prepends the system message when the transcript
// does not already open with one. An empty prompt uses the default.
func ensureSystemPrompt(s *State, prompt string) {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if len(s.Messages) > 0 && s.Messages[0].Role == "system" {
		return
	}
	s.Messages = append([]datatypes.Message{{Role: "system", Content: prompt}}, s.Messages...)
}

func (g *StateGraph) next(current string, state *State) (string, error) {
	if ce, ok := g.conditional[current]; ok {
		label := ce.decide(state)
		target, ok := ce.targets[label]
		if !ok {
			return "", fmt.Errorf("node %q routed to unmapped label %q", current, label)
		}
		return target, nil
	}
	if to, ok := g.edges[current]; ok {
		return to, nil
	}
	return EndNode, nil
}

// Structure exports the graph shape, including the start and end
// pseudo-nodes, for rendering.
func (g *StateGraph) Structure() datatypes.GraphStructureResponse {
	resp := datatypes.GraphStructureResponse{
		Nodes: []datatypes.GraphNode{{ID: StartNode, Type: "start", Label: "Start"}},
	}
	for _, name := range g.order {
		resp.Nodes = append(resp.Nodes, datatypes.GraphNode{
			ID: name, Type: "node", Label: g.nodes[name].label,
		})
	}
	resp.Nodes = append(resp.Nodes, datatypes.GraphNode{ID: EndNode, Type: "end", Label: "End"})

	if g.entry != "" {
		resp.Edges = append(resp.Edges, datatypes.GraphEdge{Source: StartNode, Target: g.entry})
	}
	for _, name := range g.order {
		if to, ok := g.edges[name]; ok {
			resp.Edges = append(resp.Edges, datatypes.GraphEdge{Source: name, Target: to})
		}
		if ce, ok := g.conditional[name]; ok {
			labels := make([]string, 0, len(ce.targets))
			for label := range ce.targets {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				resp.Edges = append(resp.Edges, datatypes.GraphEdge{
					Source: name, Target: ce.targets[label], Conditional: true, Label: label,
				})
			}
		}
	}
	return resp
}

// Options configures an agent run.
type Options struct {
	// MaxSteps bounds the graph loop. Zero uses DefaultMaxSteps.
	MaxSteps int
	// SystemPrompt overrides the built-in assistant prompt.
	SystemPrompt string
	// Params are forwarded to every model call.
	Params llm.GenerationParams
	// Tools available to the run. Nil means the built-in set.
	Tools []*Tool
}

// Runner is a ready-to-execute agent.
type Runner interface {
	// Run drives the conversation in state to a final answer, reporting
	// progress to sink.
	Run(ctx context.Context, state *State, sink EventSink) error
	// Graph exposes the topology for rendering.
	Graph() *StateGraph
}

// New builds a runner for the given agent type.
func New(agentType datatypes.AgentType, client llm.Client, opts Options) (Runner, error) {
	switch agentType {
	case datatypes.AgentBasic:
		return NewBasicAgent(client, opts), nil
	case datatypes.AgentReAct:
		return NewReActAgent(client, opts), nil
	case datatypes.AgentPlan:
		return NewPlanAgent(client, opts), nil
	default:
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}
}

// Structure reports the topology of an agent type without binding it to a
// model, for the graph inspection endpoint.
func Structure(agentType datatypes.AgentType) (datatypes.GraphStructureResponse, error) {
	runner, err := New(agentType, nil, Options{})
	if err != nil {
		return datatypes.GraphStructureResponse{}, err
	}
	return runner.Graph().Structure(), nil
}
