// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// OllamaClient talks to a local Ollama daemon over its native chat API.
// Ollama streams NDJSON rather than SSE, so streaming reads the response
// body line by line.
type OllamaClient struct {
	httpClient *http.Client
	profile    Profile
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	CreatedAt       string        `json:"created_at"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// NewOllamaClient creates a client for an "ollama" profile. No API key is
// required; BaseURL defaults to the standard local daemon address.
func NewOllamaClient(profile Profile) (*OllamaClient, error) {
	if profile.BaseURL == "" {
		profile.BaseURL = "http://localhost:11434"
	}
	profile.BaseURL = strings.TrimSuffix(profile.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", profile.BaseURL, "model", profile.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		profile:    profile,
	}, nil
}

// Profile implements the Client interface.
func (o *OllamaClient) Profile() Profile { return o.profile }

func buildOllamaOptions(params GenerationParams) map[string]interface{} {
	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}

func toOllamaMessages(messages []datatypes.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = json.RawMessage(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func (o *OllamaClient) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) ollamaChatRequest {
	req := ollamaChatRequest{
		Model:    o.profile.Model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Options:  buildOllamaOptions(params),
	}
	for _, tool := range params.Tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = tool.Name
		ot.Function.Description = tool.Description
		ot.Function.Parameters = tool.Parameters
		req.Tools = append(req.Tools, ot)
	}
	return req
}

func (o *OllamaClient) post(ctx context.Context, payload ollamaChatRequest) (*http.Response, error) {
	chatURL := o.profile.BaseURL + "/api/chat"
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}
	// Use NewRequestWithContext to respect context cancellation/timeout
	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return o.httpClient.Do(req)
}

// ollamaError inspects a non-200 response and returns a caller-facing
// error. A missing model gets a pull hint instead of the raw body.
func (o *OllamaClient) ollamaError(statusCode int, body []byte) error {
	if statusCode == http.StatusNotFound {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil &&
			strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
			slog.Warn("Ollama model not found", "model", o.profile.Model)
			return fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'",
				o.profile.Model, o.profile.Model)
		}
	}
	slog.Error("Ollama chat returned an error", "status_code", statusCode, "response", string(body))
	return fmt.Errorf("ollama chat failed with status %d: %s", statusCode, string(body))
}

func toChatResult(resp ollamaChatResponse) *ChatResult {
	result := &ChatResult{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		Usage: datatypes.TokenUsage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}
	for i, tc := range resp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
			ID:        fmt.Sprintf("ollama_call_%d", i),
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}
	return result
}

// Chat implements the Client interface.
func (o *OllamaClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (*ChatResult, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.profile.Model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))
	slog.Debug("Generating text via Ollama", "model", o.profile.Model)

	resp, err := o.post(ctx, o.buildRequest(messages, params, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read response body from Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := o.ollamaError(resp.StatusCode, respBody)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var ollamaResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		slog.Error("Failed to parse JSON chat response from Ollama", "error", err,
			"response", string(respBody))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse Ollama chat response: %w", err)
	}
	if ollamaResp.Message.Role != "assistant" {
		slog.Warn("Ollama chat response message role was not 'assistant'", "role", ollamaResp.Message.Role)
	}
	return toChatResult(ollamaResp), nil
}

// ChatStream implements the Client interface.
//
// Ollama emits one JSON object per line while streaming; content deltas
// go to the callback and the final line carries done_reason, tool calls,
// and eval counts.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) (*ChatResult, error) {

	ctx, span := tracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.profile.Model))
	span.SetAttributes(attribute.Int("llm.num_messages", len(messages)))

	resp, err := o.post(ctx, o.buildRequest(messages, params, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := o.ollamaError(resp.StatusCode, respBody)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var content strings.Builder
	result := &ChatResult{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Error("Failed to parse streaming chunk from Ollama", "error", err, "line", string(line))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to parse Ollama stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Message.Content}); cbErr != nil {
				return nil, cbErr
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
				ID:        fmt.Sprintf("ollama_call_%d", len(result.ToolCalls)),
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			})
		}
		if chunk.Done {
			result.FinishReason = chunk.DoneReason
			result.Usage = datatypes.TokenUsage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("Ollama stream failed: %w", err)
	}

	result.Content = content.String()
	span.SetAttributes(attribute.Int("llm.tool_calls", len(result.ToolCalls)))
	return result, nil
}
