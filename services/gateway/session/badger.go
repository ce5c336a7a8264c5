// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

const badgerKeyPrefix = "session:"

// BadgerStore persists sessions in an embedded BadgerDB so transcripts
// survive restarts. One JSON document per session.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database directory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database at %s: %w", path, err)
	}
	slog.Info("Session store opened", "backend", "badger", "path", path)
	return &BadgerStore{db: db}, nil
}

func sessionKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

func (b *BadgerStore) load(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	var s Session
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

func (b *BadgerStore) save(txn *badger.Txn, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return txn.Set(sessionKey(s.ID), data)
}

// GetOrCreate implements the Store interface.
func (b *BadgerStore) GetOrCreate(_ context.Context, id string) (*Session, bool, error) {
	var s *Session
	created := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if id != "" {
			existing, err := b.load(txn, id)
			if err == nil {
				s = existing
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		s = &Session{
			ID:        pickID(id),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		created = true
		return b.save(txn, s)
	})
	if err != nil {
		return nil, false, err
	}
	return s, created, nil
}

// Get implements the Store interface.
func (b *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var s *Session
	err := b.db.View(func(txn *badger.Txn) error {
		loaded, err := b.load(txn, id)
		if err != nil {
			return err
		}
		s = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Append implements the Store interface.
func (b *BadgerStore) Append(_ context.Context, id string, messages ...datatypes.Message) error {
	return b.db.Update(func(txn *badger.Txn) error {
		s, err := b.load(txn, id)
		if errors.Is(err, ErrNotFound) {
			s = &Session{ID: pickID(id), CreatedAt: time.Now()}
		} else if err != nil {
			return err
		}
		s.Messages = capMessages(append(s.Messages, messages...))
		s.UpdatedAt = time.Now()
		return b.save(txn, s)
	})
}

// List implements the Store interface.
func (b *BadgerStore) List(_ context.Context) ([]datatypes.SessionInfo, error) {
	var infos []datatypes.SessionInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			infos = append(infos, s.Info())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt > infos[j].UpdatedAt
	})
	return infos, nil
}

// Delete implements the Store interface.
func (b *BadgerStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := b.load(txn, id); err != nil {
			return err
		}
		return txn.Delete(sessionKey(id))
	})
}

// DeleteIdleSince implements the Store interface.
func (b *BadgerStore) DeleteIdleSince(_ context.Context, cutoff time.Time) (int, error) {
	// Collect first, delete in a second transaction, so the iterator
	// never observes its own deletes.
	var expired []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return err
			}
			if s.UpdatedAt.Before(cutoff) {
				expired = append(expired, s.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		for _, id := range expired {
			if err := txn.Delete(sessionKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

// Close implements the Store interface.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
