// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

func newTestSSEWriter(t *testing.T) (SSEWriter, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err, "ResponseRecorder implements http.Flusher")
	return writer, w
}

func TestSSEWriter_EventFormat(t *testing.T) {
	writer, w := newTestSSEWriter(t)

	require.NoError(t, writer.WriteToken("hello"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: token\n"), "event name line comes first")
	assert.Contains(t, body, "data: {")
	assert.True(t, strings.HasSuffix(body, "\n\n"), "events are terminated by a blank line")
}

func TestSSEWriter_PopulatesMetadata(t *testing.T) {
	writer, w := newTestSSEWriter(t)

	require.NoError(t, writer.WriteStart("session-1"))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 1)
	ev := decodeEvent(t, events[0])
	assert.NotEmpty(t, ev.Id)
	assert.NotZero(t, ev.CreatedAt)
	assert.NotEmpty(t, ev.Hash)
	assert.Empty(t, ev.PrevHash, "first event has no predecessor")
	assert.Equal(t, "started", ev.Status)
	assert.Equal(t, "session-1", ev.SessionId)
}

func TestSSEWriter_HashChainLinks(t *testing.T) {
	writer, w := newTestSSEWriter(t)

	require.NoError(t, writer.WriteStart("s"))
	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteToken("b"))
	require.NoError(t, writer.WriteEnd("s"))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 4)

	prev := ""
	for i, e := range events {
		ev := decodeEvent(t, e)
		assert.Equal(t, prev, ev.PrevHash, "event %d links to event %d", i, i-1)
		assert.NotEqual(t, prev, ev.Hash, "hashes advance per event")
		prev = ev.Hash
	}
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	writer, w := newTestSSEWriter(t)

	require.NoError(t, writer.WriteStart("s"))
	firstHash := decodeEvent(t, parseSSEEvents(t, w.Body.String())[0]).Hash

	require.NoError(t, writer.WriteKeepAlive())
	assert.Contains(t, w.Body.String(), ": ping\n\n")

	// Keepalives are not events and must not advance the chain.
	require.NoError(t, writer.WriteToken("x"))
	events := parseSSEEvents(t, w.Body.String())
	last := decodeEvent(t, events[len(events)-1])
	assert.Equal(t, firstHash, last.PrevHash)
}

func TestSSEWriter_ToolAndPlanEvents(t *testing.T) {
	writer, w := newTestSSEWriter(t)

	require.NoError(t, writer.WriteToolStart("get_weather", `{"city":"Anchorage"}`))
	require.NoError(t, writer.WriteToolEnd("get_weather", `{"temp":3}`))
	require.NoError(t, writer.WritePlanCreated([]datatypes.PlanStep{
		{StepNumber: 1, Description: "look up the weather", Status: "pending"},
	}))
	require.NoError(t, writer.WritePlanStepCompleted(1, "look up the weather"))

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "tool_start", events[0].Event)
	assert.Equal(t, "tool_end", events[1].Event)
	assert.Equal(t, "plan_created", events[2].Event)
	assert.Equal(t, "plan_step_completed", events[3].Event)

	toolStart := decodeEvent(t, events[0])
	assert.Equal(t, "get_weather", toolStart.Tool)
	assert.Equal(t, `{"city":"Anchorage"}`, toolStart.ToolInput)

	plan := decodeEvent(t, events[2])
	require.Len(t, plan.Plan, 1)
	assert.Equal(t, "look up the weather", plan.Plan[0].Description)

	step := decodeEvent(t, events[3])
	assert.Equal(t, 1, step.StepNumber)
}

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}
