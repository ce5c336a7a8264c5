// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

var tracer = otel.Tracer("aleutian.llm") // Shared tracer for the llm package

// OpenAIClient talks to OpenAI-compatible chat completion APIs, including
// Azure OpenAI deployments. Streaming uses the SSE chat completions
// endpoint; tool call fragments are reassembled across chunks.
type OpenAIClient struct {
	client  *openai.Client
	profile Profile
}

// NewOpenAIClient creates a client for an "openai" profile. BaseURL may
// point at any OpenAI-compatible endpoint (vLLM, LiteLLM, OpenRouter).
func NewOpenAIClient(profile Profile) (*OpenAIClient, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile %q: api_key is empty", profile.Name)
	}
	cfg := openai.DefaultConfig(profile.APIKey)
	if profile.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(profile.BaseURL, "/")
	}
	slog.Info("Initializing OpenAI client", "profile", profile.Name, "model", profile.Model)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		profile: profile,
	}, nil
}

// NewAzureOpenAIClient creates a client for an "azureopenai" profile.
// BaseURL is the resource endpoint (https://{resource}.openai.azure.com)
// and the profile model is the deployment name.
func NewAzureOpenAIClient(profile Profile) (*OpenAIClient, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile %q: api_key is empty", profile.Name)
	}
	if profile.BaseURL == "" {
		return nil, fmt.Errorf("profile %q: base_url is required for azureopenai", profile.Name)
	}
	cfg := openai.DefaultAzureConfig(profile.APIKey, strings.TrimSuffix(profile.BaseURL, "/"))
	slog.Info("Initializing Azure OpenAI client", "profile", profile.Name, "deployment", profile.Model)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		profile: profile,
	}, nil
}

// Profile implements the Client interface.
func (o *OpenAIClient) Profile() Profile { return o.profile }

func (o *OpenAIClient) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    o.profile.Model,
		Messages: toOpenAIMessages(messages),
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	for _, tool := range params.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// Chat implements the Client interface.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (*ChatResult, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.profile.Model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "profile", o.profile.Name, "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "profile", o.profile.Name)
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	choice := resp.Choices[0]
	result := &ChatResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: datatypes.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// ChatStream implements the Client interface.
//
// Tokens are delivered through the callback as they arrive. Tool call
// fragments are accumulated by index and returned fully assembled in the
// ChatResult once the provider closes the stream.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) (*ChatResult, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.profile.Model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	stream, err := o.client.CreateChatCompletionStream(ctx, o.buildRequest(messages, params, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI stream setup failed", "profile", o.profile.Name, "error", err)
		return nil, fmt.Errorf("OpenAI stream setup failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	result := &ChatResult{}
	// Tool call fragments arrive keyed by choice-local index.
	pending := make(map[int]*datatypes.ToolCall)
	order := make([]int, 0, 2)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("OpenAI stream failed: %w", err)
		}

		if resp.Usage != nil {
			result.Usage = datatypes.TokenUsage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: choice.Delta.Content}); cbErr != nil {
				return nil, cbErr
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &datatypes.ToolCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}

	result.Content = content.String()
	for _, idx := range order {
		result.ToolCalls = append(result.ToolCalls, *pending[idx])
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(result.ToolCalls)))
	return result, nil
}

func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
