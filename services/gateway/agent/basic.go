// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// BasicAgent makes a single streaming model turn with no tools. It is
// the fastest path for plain question answering.
type BasicAgent struct {
	client llm.Client
	opts   Options
	graph  *StateGraph
}

const nodeChat = "chat"

// NewBasicAgent builds the single-node graph.
func NewBasicAgent(client llm.Client, opts Options) *BasicAgent {
	a := &BasicAgent{client: client, opts: opts}
	g := NewStateGraph(opts.MaxSteps)
	g.AddNode(nodeChat, "Chat", a.chatNode)
	g.SetEntry(nodeChat)
	g.AddEdge(nodeChat, EndNode)
	a.graph = g
	return a
}

// Run implements the Runner interface.
func (a *BasicAgent) Run(ctx context.Context, state *State, sink EventSink) error {
	ensureSystemPrompt(state, a.opts.SystemPrompt)
	return a.graph.Run(ctx, state, sink)
}

// Graph implements the Runner interface.
func (a *BasicAgent) Graph() *StateGraph { return a.graph }

func (a *BasicAgent) chatNode(ctx context.Context, s *State, sink EventSink) error {
	result, err := a.client.ChatStream(ctx, s.Messages, a.opts.Params, func(event llm.StreamEvent) error {
		if event.Type == llm.StreamEventToken {
			return sink.Token(event.Content)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Usage.Add(result.Usage)
	s.FinalContent = result.Content
	s.Messages = append(s.Messages, datatypes.Message{Role: "assistant", Content: result.Content})
	return nil
}
