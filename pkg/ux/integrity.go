// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// secureHashEqual performs constant-time comparison of two hash strings.
// This prevents timing attacks where an attacker could determine how many
// leading characters of a hash are correct by measuring response times.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashComputer computes cryptographic hashes over stream events.
//
// Implementations must be safe for concurrent use.
type HashComputer interface {
	// ComputeEventHash recomputes the envelope hash for an event. The
	// event's own Hash field is excluded from the input.
	ComputeEventHash(event StreamEvent) string

	// ComputeContentHash computes a SHA-256 hash of content.
	ComputeContentHash(content string) string
}

// sha256HashComputer mirrors the gateway's event hashing so a client
// can independently verify the stream it received.
type sha256HashComputer struct{}

// NewSHA256HashComputer creates the default hash computer.
func NewSHA256HashComputer() HashComputer {
	return &sha256HashComputer{}
}

func (c *sha256HashComputer) ComputeEventHash(event StreamEvent) string {
	planJSON := ""
	if len(event.Plan) > 0 {
		if data, err := json.Marshal(event.Plan); err == nil {
			planJSON = string(data)
		}
	}
	hashInput := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s|%s|%s|%d|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.Status,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Node,
		event.Tool,
		event.ToolInput,
		event.ToolOutput,
		event.StepNumber,
		event.Description,
		event.SessionId,
		event.Error,
		planJSON,
	)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (c *sha256HashComputer) ComputeContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// ChainVerificationResult contains detailed results from chain
// verification, including where any failure occurred.
//
// Immutable after creation. Safe for concurrent read access.
type ChainVerificationResult struct {
	Valid             bool   `json:"valid"`
	ChainLength       int    `json:"chain_length"`
	FinalHash         string `json:"final_hash,omitempty"`
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	VerifiedAt        int64  `json:"verified_at,omitempty"`
}

// ChainVerifier checks the integrity of a sequence of stream events.
//
// Events must be in arrival order; the first event has an empty
// PrevHash.
type ChainVerifier interface {
	Verify(events []StreamEvent) *ChainVerificationResult
}

// fullChainVerifier recomputes each event's hash and checks both hash
// correctness and prev-hash linkage.
type fullChainVerifier struct {
	hashComputer HashComputer
}

// NewFullChainVerifier creates a verifier that recomputes all hashes.
func NewFullChainVerifier() ChainVerifier {
	return &fullChainVerifier{hashComputer: NewSHA256HashComputer()}
}

func (v *fullChainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
		VerifiedAt:        time.Now().UnixMilli(),
	}

	prevHash := ""
	for i, event := range events {
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf("event %d prev_hash does not link to the preceding event", i)
			return result
		}

		computed := v.hashComputer.ComputeEventHash(stripHash(event))
		if !secureHashEqual(event.Hash, computed) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computed
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf("event %d hash does not match its content", i)
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = prevHash
	return result
}

// linkChainVerifier only checks prev-hash linkage, skipping hash
// recomputation. Cheaper, but does not detect content tampering.
type linkChainVerifier struct{}

// NewLinkChainVerifier creates a linkage-only verifier.
func NewLinkChainVerifier() ChainVerifier {
	return &linkChainVerifier{}
}

func (v *linkChainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
		VerifiedAt:        time.Now().UnixMilli(),
	}

	prevHash := ""
	for i, event := range events {
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf("event %d prev_hash does not link to the preceding event", i)
			return result
		}
		prevHash = event.Hash
	}

	result.FinalHash = prevHash
	return result
}

// stripHash returns a copy of the event with the Hash field cleared,
// matching the state the gateway hashed.
func stripHash(event StreamEvent) StreamEvent {
	event.Hash = ""
	return event
}

// IntegrityInfo surfaces hash chain verification to the user. Hashes
// are safe to display; they cannot be reversed to reveal content.
type IntegrityInfo struct {
	ChainHash         string `json:"chain_hash"`
	ContentHash       string `json:"content_hash"`
	ChainLength       int    `json:"chain_length"`
	IntegrityVerified bool   `json:"integrity_verified"`
	VerificationError string `json:"verification_error,omitempty"`
	VerifiedAt        int64  `json:"verified_at,omitempty"`
}

// NewIntegrityInfo builds the user-facing integrity summary from a
// stream result.
func NewIntegrityInfo(result *StreamResult) IntegrityInfo {
	info := IntegrityInfo{
		ContentHash: NewSHA256HashComputer().ComputeContentHash(result.Answer),
	}
	if result.Integrity != nil {
		info.ChainHash = result.Integrity.FinalHash
		info.ChainLength = result.Integrity.ChainLength
		info.IntegrityVerified = result.Integrity.Valid
		info.VerificationError = result.Integrity.ErrorMessage
		info.VerifiedAt = result.Integrity.VerifiedAt
	}
	return info
}
