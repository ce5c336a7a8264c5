// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides a provider-neutral client interface for hosted
// LLM backends, plus the profile registry that maps configured LLM
// profiles to ready clients.
package llm

import (
	"context"
	"encoding/json"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// Profile is a named LLM configuration, resolved from settings.yaml.
// BaseURL and APIKey have environment variables already expanded.
type Profile struct {
	Name     string
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Default  bool
}

// ToolDefinition describes a callable tool exposed to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// GenerationParams carries optional sampling and tool parameters.
type GenerationParams struct {
	Temperature *float32         `json:"temperature"`
	TopK        *int             `json:"top_k"`
	TopP        *float32         `json:"top_p"`
	MaxTokens   *int             `json:"max_tokens"`
	Stop        []string         `json:"stop"`
	Tools       []ToolDefinition `json:"-"`
}

// StreamEventType identifies a streaming callback event.
type StreamEventType string

const (
	// StreamEventToken is a content fragment.
	StreamEventToken StreamEventType = "token"

	// StreamEventError is a provider-side failure mid-stream.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one event delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Error   string
}

// StreamCallback receives events as the LLM generates them. Returning a
// non-nil error aborts the stream (used on client disconnect).
type StreamCallback func(event StreamEvent) error

// ChatResult is the outcome of one chat completion call. ToolCalls is
// non-empty when the model requested tool execution instead of (or in
// addition to) producing content.
type ChatResult struct {
	Content      string
	ToolCalls    []datatypes.ToolCall
	Usage        datatypes.TokenUsage
	FinishReason string
}

// Client defines the standard interface for any LLM backend.
//
// ChatStream delivers tokens through the callback as they arrive and
// returns the assembled result, including any tool calls, once the
// provider stream ends. Implementations must honor ctx cancellation
// between chunks.
type Client interface {
	Profile() Profile
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error)
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams, callback StreamCallback) (*ChatResult, error)
}
