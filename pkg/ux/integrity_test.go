// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain produces a correctly linked event chain, hashing each
// event the same way the gateway does.
func buildChain(events ...StreamEvent) []StreamEvent {
	computer := NewSHA256HashComputer()
	prevHash := ""
	chained := make([]StreamEvent, 0, len(events))
	for i, event := range events {
		if event.Id == "" {
			event.Id = "event-" + string(rune('a'+i))
		}
		event.CreatedAt = time.Now().UnixMilli()
		event.PrevHash = prevHash
		event.Hash = ""
		event.Hash = computer.ComputeEventHash(event)
		prevHash = event.Hash
		chained = append(chained, event)
	}
	return chained
}

func TestFullChainVerifier_ValidChain(t *testing.T) {
	events := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started", SessionId: "sess-1"},
		StreamEvent{Type: StreamEventToken, Content: "Hello"},
		StreamEvent{Type: StreamEventToken, Content: " world"},
		StreamEvent{Type: StreamEventEnd, Status: "complete", SessionId: "sess-1"},
	)

	result := NewFullChainVerifier().Verify(events)

	require.NotNil(t, result)
	assert.True(t, result.Valid)
	assert.Equal(t, 4, result.ChainLength)
	assert.Equal(t, -1, result.InvalidEventIndex)
	assert.Equal(t, events[3].Hash, result.FinalHash)
	assert.Empty(t, result.ErrorMessage)
}

func TestFullChainVerifier_EmptyChain(t *testing.T) {
	result := NewFullChainVerifier().Verify(nil)

	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.ChainLength)
	assert.Empty(t, result.FinalHash)
}

func TestFullChainVerifier_TamperedContent(t *testing.T) {
	events := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started"},
		StreamEvent{Type: StreamEventToken, Content: "original"},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)
	events[1].Content = "tampered"

	result := NewFullChainVerifier().Verify(events)

	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.InvalidEventIndex)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestFullChainVerifier_BrokenLinkage(t *testing.T) {
	events := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started"},
		StreamEvent{Type: StreamEventToken, Content: "a"},
		StreamEvent{Type: StreamEventToken, Content: "b"},
	)
	// Drop the middle event to simulate a removed message.
	events = append(events[:1], events[2])

	result := NewFullChainVerifier().Verify(events)

	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.InvalidEventIndex)
	assert.Contains(t, result.ErrorMessage, "prev_hash")
}

func TestFullChainVerifier_PlanEventsHashed(t *testing.T) {
	events := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started"},
		StreamEvent{Type: StreamEventPlan, Plan: []PlanStep{
			{StepNumber: 1, Description: "search the docs", Status: "pending"},
			{StepNumber: 2, Description: "summarize", Status: "pending"},
		}},
		StreamEvent{Type: StreamEventEnd, Status: "complete"},
	)

	result := NewFullChainVerifier().Verify(events)
	require.True(t, result.Valid)

	// Changing a plan step must invalidate the hash.
	events[1].Plan[0].Description = "search elsewhere"
	result = NewFullChainVerifier().Verify(events)
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.InvalidEventIndex)
}

func TestLinkChainVerifier_SkipsHashRecomputation(t *testing.T) {
	events := buildChain(
		StreamEvent{Type: StreamEventStart, Status: "started"},
		StreamEvent{Type: StreamEventToken, Content: "original"},
	)
	// Content tampering is invisible to linkage-only verification.
	events[1].Content = "tampered"

	result := NewLinkChainVerifier().Verify(events)
	assert.True(t, result.Valid)

	// Breaking the link is still caught.
	events[1].PrevHash = "bogus"
	result = NewLinkChainVerifier().Verify(events)
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.InvalidEventIndex)
}

func TestSHA256HashComputer_Deterministic(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{
		Id:        "id-1",
		Type:      StreamEventToken,
		Content:   "hello",
		CreatedAt: 1700000000000,
	}

	first := computer.ComputeEventHash(event)
	second := computer.ComputeEventHash(event)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestSHA256HashComputer_HashFieldExcluded(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{Id: "id-1", Type: StreamEventToken, Content: "hello"}

	withoutHash := computer.ComputeEventHash(event)
	event.Hash = withoutHash
	withHash := computer.ComputeEventHash(stripHash(event))

	assert.Equal(t, withoutHash, withHash)
}

func TestSecureHashEqual(t *testing.T) {
	assert.True(t, secureHashEqual("abc", "abc"))
	assert.False(t, secureHashEqual("abc", "abd"))
	assert.False(t, secureHashEqual("abc", "abcd"))
	assert.True(t, secureHashEqual("", ""))
}

func TestNewIntegrityInfo(t *testing.T) {
	result := &StreamResult{
		Answer: "final answer",
		Integrity: &ChainVerificationResult{
			Valid:       true,
			ChainLength: 5,
			FinalHash:   "deadbeef",
			VerifiedAt:  1700000000000,
		},
	}

	info := NewIntegrityInfo(result)

	assert.True(t, info.IntegrityVerified)
	assert.Equal(t, 5, info.ChainLength)
	assert.Equal(t, "deadbeef", info.ChainHash)
	assert.Len(t, info.ContentHash, 64)
	assert.Empty(t, info.VerificationError)
}
