// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/pkg/extensions"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
	"github.com/AleutianAI/AleutianStudio/services/guard"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

// newOllamaBackend starts an httptest server that speaks the Ollama
// native chat protocol, emitting the given tokens as NDJSON chunks.
func newOllamaBackend(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, tok := range tokens {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":4}`)
	}))
}

// newTestChatHandler wires a handler against the given Ollama backend
// with an in-memory session store.
func newTestChatHandler(t *testing.T, backendURL string) (*StreamingChatHandler, session.Store) {
	t.Helper()
	t.Setenv(EnvInsecureMemory, "true")

	registry := llm.NewRegistry([]llm.Profile{
		{Name: "test-model", Provider: "ollama", Model: "test-model", BaseURL: backendURL, Default: true},
	})
	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	g, err := guard.New()
	require.NoError(t, err, "guard should initialize from embedded patterns")

	settings := func() config.Settings {
		return config.Settings{
			Agent: config.AgentSettings{Type: "react", MaxSteps: 10},
		}
	}
	return NewStreamingChatHandler(registry, store, g, settings, extensions.DefaultOptions()), store
}

func newChatRouter(h *StreamingChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/v2/chat", h.HandleChat)
	return router
}

func postChat(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req, _ := http.NewRequest("POST", "/v2/chat", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSEEvents(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			current.Event = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			current.Data = strings.TrimPrefix(line, "data: ")
		} else if line == "" && current.Event != "" {
			events = append(events, current)
			current = sseEvent{}
		}
	}
	if current.Event != "" {
		events = append(events, current)
	}
	return events
}

func decodeEvent(t *testing.T, e sseEvent) datatypes.StreamEvent {
	t.Helper()
	var out datatypes.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(e.Data), &out), "event data should be valid JSON")
	return out
}

// =============================================================================
// HandleChat Tests
// =============================================================================

// TestHandleChat_InvalidRequestBody verifies that the handler returns
// 400 for malformed JSON.
func TestHandleChat_InvalidRequestBody(t *testing.T) {
	backend := newOllamaBackend(t, nil)
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), "not json")

	assert.Equal(t, http.StatusBadRequest, w.Code, "should return 400 for invalid JSON")
}

// TestHandleChat_ValidationFailure verifies that a request missing the
// message is rejected before any streaming starts.
func TestHandleChat_ValidationFailure(t *testing.T) {
	backend := newOllamaBackend(t, nil)
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{Model: "test-model"})

	assert.Equal(t, http.StatusBadRequest, w.Code, "should return 400 for validation failure")
}

// TestHandleChat_UnknownAgentType verifies rejection of unrecognized
// agent_type values.
func TestHandleChat_UnknownAgentType(t *testing.T) {
	backend := newOllamaBackend(t, nil)
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message:   "hello",
		Model:     "test-model",
		AgentType: "autonomous-swarm",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "agent_type")
}

// TestHandleChat_PolicyViolation verifies that credentials in the user
// message are blocked with 403 before reaching the model.
func TestHandleChat_PolicyViolation(t *testing.T) {
	backend := newOllamaBackend(t, []string{"should", "not", "run"})
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message: "my key is sk-abcdefghijklmnopqrstuvwxyz123456",
		Model:   "test-model",
	})

	assert.Equal(t, http.StatusForbidden, w.Code, "should return 403 for policy violation")
	assert.Contains(t, w.Body.String(), "Policy Violation")
	assert.Contains(t, w.Body.String(), "findings")
}

// TestHandleChat_SSEHeaders verifies the streaming response headers.
func TestHandleChat_SSEHeaders(t *testing.T) {
	backend := newOllamaBackend(t, []string{"hi"})
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message: "hello",
		Model:   "test-model",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
}

// TestHandleChat_StreamsTokens verifies the full happy path: start
// event, streamed tokens, node boundaries, and a terminal end event
// carrying the session id.
func TestHandleChat_StreamsTokens(t *testing.T) {
	backend := newOllamaBackend(t, []string{"Hello", " ", "world", "!"})
	defer backend.Close()
	h, store := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message: "greet me",
		Model:   "test-model",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	first := decodeEvent(t, events[0])
	assert.Equal(t, datatypes.StreamEventStart, first.Type)
	assert.Equal(t, "started", first.Status)
	assert.NotEmpty(t, first.SessionId, "start event should carry the session id")

	var answer strings.Builder
	for _, e := range events {
		if e.Event == string(datatypes.StreamEventToken) {
			answer.WriteString(decodeEvent(t, e).Content)
		}
	}
	assert.Equal(t, "Hello world!", answer.String())

	last := decodeEvent(t, events[len(events)-1])
	require.Equal(t, datatypes.StreamEventEnd, last.Type)
	assert.Equal(t, "completed", last.Status)
	assert.Equal(t, first.SessionId, last.SessionId)

	// The turn is persisted for session continuity.
	sess, err := store.Get(t.Context(), last.SessionId)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "user", sess.Messages[0].Role)
	assert.Equal(t, "greet me", sess.Messages[0].Content)
	assert.Equal(t, "assistant", sess.Messages[1].Role)
	assert.Equal(t, "Hello world!", sess.Messages[1].Content)
}

// TestHandleChat_HashChain verifies that every event links to its
// predecessor through prev_hash.
func TestHandleChat_HashChain(t *testing.T) {
	backend := newOllamaBackend(t, []string{"a", "b", "c"})
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message: "chain",
		Model:   "test-model",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSEEvents(t, w.Body.String())
	require.Greater(t, len(events), 2)

	prevHash := ""
	for i, e := range events {
		ev := decodeEvent(t, e)
		assert.NotEmpty(t, ev.Hash, "event %d should be hashed", i)
		assert.Equal(t, prevHash, ev.PrevHash, "event %d should link to its predecessor", i)
		prevHash = ev.Hash
	}
}

// TestHandleChat_SessionContinuity verifies that a second turn on the
// same session sees the history of the first.
func TestHandleChat_SessionContinuity(t *testing.T) {
	backend := newOllamaBackend(t, []string{"answer"})
	defer backend.Close()
	h, store := newTestChatHandler(t, backend.URL)
	router := newChatRouter(h)

	w := postChat(t, router, datatypes.ChatRequest{Message: "first", Model: "test-model"})
	require.Equal(t, http.StatusOK, w.Code)
	events := parseSSEEvents(t, w.Body.String())
	sessionID := decodeEvent(t, events[len(events)-1]).SessionId
	require.NotEmpty(t, sessionID)

	w = postChat(t, router, datatypes.ChatRequest{
		Message:   "second",
		Model:     "test-model",
		SessionID: sessionID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	sess, err := store.Get(t.Context(), sessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4, "both turns should be stored")
	assert.Equal(t, "first", sess.Messages[0].Content)
	assert.Equal(t, "second", sess.Messages[2].Content)
}

// TestHandleChat_UnknownModelWithProvider verifies that a model that
// resolves to nothing surfaces as an SSE error event, not an HTTP
// error, because the stream is already open.
func TestHandleChat_UnknownModelWithProvider(t *testing.T) {
	backend := newOllamaBackend(t, nil)
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message:  "hello",
		Model:    "no-such-model",
		Provider: "ollama",
	})
	require.Equal(t, http.StatusOK, w.Code, "stream is already open when resolution runs")

	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	last := decodeEvent(t, events[len(events)-1])
	assert.Equal(t, datatypes.StreamEventError, last.Type)
	assert.Contains(t, last.Error, "no-such-model")
}

// TestHandleChat_BackendFailure verifies that provider failures close
// the stream with a sanitized error event.
func TestHandleChat_BackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()
	h, _ := newTestChatHandler(t, backend.URL)

	w := postChat(t, newChatRouter(h), datatypes.ChatRequest{
		Message: "hello",
		Model:   "test-model",
	})
	require.Equal(t, http.StatusOK, w.Code)

	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	last := decodeEvent(t, events[len(events)-1])
	assert.Equal(t, datatypes.StreamEventError, last.Type)
	assert.NotEmpty(t, last.Error)
	assert.NotContains(t, last.Error, backend.URL, "provider internals must not leak")
}

// TestFriendlyLLMError maps provider failures to actionable messages.
func TestFriendlyLLMError(t *testing.T) {
	tests := []struct {
		name string
		err  string
		want string
	}{
		{
			name: "bad api key",
			err:  "ollama API error (status 401): unauthorized",
			want: "rejected the configured API key",
		},
		{
			name: "missing model keeps pull hint",
			err:  "model 'llama3' not found. Please run: 'ollama pull llama3'",
			want: "ollama pull llama3",
		},
		{
			name: "step limit is explained",
			err:  "agent exceeded the maximum of 25 steps",
			want: "maximum of 25 steps",
		},
		{
			name: "everything else is sanitized",
			err:  "dial tcp 10.0.0.5:11434: connect: connection refused",
			want: "An error occurred while processing your request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := friendlyLLMError(fmt.Errorf("%s", tt.err))
			assert.Contains(t, got, tt.want)
		})
	}
}
