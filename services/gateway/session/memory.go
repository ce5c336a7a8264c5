// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// MemoryStore keeps sessions in process memory. Contents are lost on
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetOrCreate implements the Store interface.
func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return copySession(s), false, nil
		}
	}
	s := &Session{
		ID:        pickID(id),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.sessions[s.ID] = s
	return copySession(s), true, nil
}

// Get implements the Store interface.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// Append implements the Store interface.
func (m *MemoryStore) Append(_ context.Context, id string, messages ...datatypes.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: pickID(id), CreatedAt: time.Now()}
		m.sessions[s.ID] = s
	}
	s.Messages = capMessages(append(s.Messages, messages...))
	s.UpdatedAt = time.Now()
	return nil
}

// List implements the Store interface.
func (m *MemoryStore) List(_ context.Context) ([]datatypes.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]datatypes.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}

// Delete implements the Store interface.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// DeleteIdleSince implements the Store interface.
func (m *MemoryStore) DeleteIdleSince(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error { return nil }

func pickID(id string) string {
	if id != "" && ValidSessionID(id) {
		return id
	}
	return NewSessionID()
}

func copySession(s *Session) *Session {
	out := *s
	out.Messages = append([]datatypes.Message(nil), s.Messages...)
	return &out
}
