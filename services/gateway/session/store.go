// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session stores conversation transcripts between chat requests.
//
// Two backends exist: an in-memory map for throwaway use and a Badger
// database for transcripts that survive restarts. A background sweeper
// expires idle sessions on a configurable TTL.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one stored conversation.
type Session struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Messages  []datatypes.Message `json:"messages"`
}

// Info summarizes a session for listings.
func (s *Session) Info() datatypes.SessionInfo {
	return datatypes.SessionInfo{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt.UnixMilli(),
		UpdatedAt:    s.UpdatedAt.UnixMilli(),
		MessageCount: len(s.Messages),
	}
}

// Store persists conversations. Implementations are safe for concurrent
// use.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it when
	// id is empty or unknown. The second return reports whether a new
	// session was created.
	GetOrCreate(ctx context.Context, id string) (*Session, bool, error)

	// Get returns an existing session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Append adds messages to a session, creating it if needed. The
	// transcript is capped at datatypes.MaxHistoryMessages, oldest first
	// out.
	Append(ctx context.Context, id string, messages ...datatypes.Message) error

	// List summarizes every stored session, most recently updated first.
	List(ctx context.Context) ([]datatypes.SessionInfo, error)

	// Delete removes a session. Deleting an unknown id is ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteIdleSince removes sessions not updated since the cutoff and
	// reports how many went.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

// NewSessionID mints a session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID rejects ids that could not have come from NewSessionID.
// Backends use it to keep key spaces clean.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return !strings.ContainsAny(id, "/\x00\n")
}

// capMessages keeps only the newest MaxHistoryMessages entries.
func capMessages(messages []datatypes.Message) []datatypes.Message {
	if len(messages) <= datatypes.MaxHistoryMessages {
		return messages
	}
	return messages[len(messages)-datatypes.MaxHistoryMessages:]
}

// NewStore builds a backend from settings values.
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "badger":
		if path == "" {
			return nil, fmt.Errorf("badger session backend requires a path")
		}
		return NewBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
}
