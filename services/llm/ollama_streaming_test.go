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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// newTestOllamaClient creates an OllamaClient pointing to a test server.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		profile: Profile{
			Name:     "test-profile",
			Provider: ProviderOllama,
			Model:    model,
			BaseURL:  baseURL,
		},
	}
}

// TestOllamaClient_ChatStream_Tokens tests that streamed NDJSON chunks are
// delivered to the callback in order and accumulated into the result.
func TestOllamaClient_ChatStream_Tokens(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":2}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	var tokens []string
	result, err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(event StreamEvent) error {
			if event.Type != StreamEventToken {
				t.Errorf("Expected token event, got %v", event.Type)
			}
			tokens = append(tokens, event.Content)
			return nil
		})

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(tokens))
	}
	if result.Content != "Hello world" {
		t.Errorf("Expected accumulated content 'Hello world', got %q", result.Content)
	}
	if result.FinishReason != "stop" {
		t.Errorf("Expected finish reason 'stop', got %q", result.FinishReason)
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 2 {
		t.Errorf("Unexpected usage: %+v", result.Usage)
	}
}

// TestOllamaClient_ChatStream_ToolCalls tests that tool calls emitted on
// the final chunk are surfaced in the result.
func TestOllamaClient_ChatStream_ToolCalls(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Anchorage"}}}]},"done":true,"done_reason":"stop"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	result, err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "weather?"}},
		GenerationParams{},
		func(StreamEvent) error { return nil })

	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "get_weather" {
		t.Errorf("Expected tool name 'get_weather', got %q", result.ToolCalls[0].Name)
	}
	if !strings.Contains(result.ToolCalls[0].Arguments, "Anchorage") {
		t.Errorf("Expected arguments to mention Anchorage, got %q", result.ToolCalls[0].Arguments)
	}
}

// TestOllamaClient_ChatStream_CallbackError tests that a callback error
// aborts the stream and is returned to the caller.
func TestOllamaClient_ChatStream_CallbackError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"done_reason":"stop"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	sentinel := errors.New("client went away")
	_, err := client.ChatStream(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{},
		func(StreamEvent) error { return sentinel })

	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected callback error to propagate, got %v", err)
	}
}

// TestOllamaClient_Chat_ModelNotFound tests the friendly pull hint for a
// missing model.
func TestOllamaClient_Chat_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":"model 'missing-model' not found"}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "missing-model")

	_, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "hi"}},
		GenerationParams{})

	if err == nil {
		t.Fatal("Expected error for missing model")
	}
	if !strings.Contains(err.Error(), "ollama pull missing-model") {
		t.Errorf("Expected pull hint in error, got: %v", err)
	}
}

// TestOllamaClient_Chat_NonStreaming tests the non-streaming chat path.
func TestOllamaClient_Chat_NonStreaming(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"42"},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":1}`)
	}))
	defer server.Close()

	client := newTestOllamaClient(server.URL, "test-model")

	result, err := client.Chat(context.Background(),
		[]datatypes.Message{{Role: "user", Content: "meaning of life?"}},
		GenerationParams{})

	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if result.Content != "42" {
		t.Errorf("Expected content '42', got %q", result.Content)
	}
}
