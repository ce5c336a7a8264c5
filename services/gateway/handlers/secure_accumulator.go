// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the capacity of the mlocked accumulation
	// buffer. 512 KB covers very long answers with headroom.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the smallest RLIMIT_MEMLOCK (in KB) that still
	// fits a secure buffer.
	MinMlockLimitKB = 512

	// EnvInsecureMemory opts into plain-memory accumulation on hosts
	// whose mlock limit is too small.
	EnvInsecureMemory = "STUDIO_INSECURE_MEMORY"
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// TokenAccumulator collects streamed answer tokens before they are
// persisted to the session store.
//
// # Description
//
// Tokens live in an mlocked memguard buffer so a full answer is never
// swapped to disk while streaming. Each token is hashed as it arrives;
// Finalize returns the assembled answer and its SHA-256 and wipes the
// buffer. On hosts without enough mlock headroom an insecure plain-Go
// fallback is used when STUDIO_INSECURE_MEMORY=true.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type TokenAccumulator interface {
	// Write appends one token. Fails on overflow or after Finalize.
	Write(token string) error

	// Finalize returns the answer and its hex SHA-256, then wipes the
	// buffer. The accumulator cannot be reused afterwards.
	Finalize() (string, string, error)

	// Destroy wipes the buffer without extracting. Safe to call after
	// Finalize.
	Destroy()

	// ID identifies this accumulator in logs.
	ID() string
}

// NewTokenAccumulator returns a secure accumulator when the host allows
// it, the insecure fallback when explicitly permitted, and an error
// otherwise.
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()
	if !mlockSufficient {
		if os.Getenv(EnvInsecureMemory) != "true" {
			return nil, fmt.Errorf(
				"mlock limit is %d KB but %d KB is required; raise RLIMIT_MEMLOCK or set %s=true",
				currentMlockLimitKB, MinMlockLimitKB, EnvInsecureMemory)
		}
		return newInsecureTokenAccumulator(), nil
	}

	buffer := memguard.NewBuffer(SecureBufferSize)
	if buffer == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer")
	}
	return &secureTokenAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buffer,
		hasher:    sha256.New(),
	}, nil
}

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()

		var limit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
			slog.Warn("Could not read mlock limit, assuming insufficient", "error", err)
			mlockSufficient = false
			return
		}
		currentMlockLimitKB = int64(limit.Cur) / 1024
		if limit.Cur == unix.RLIM_INFINITY {
			currentMlockLimitKB = -1
			mlockSufficient = true
		} else {
			mlockSufficient = currentMlockLimitKB >= MinMlockLimitKB
		}
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"secure_buffers", mlockSufficient,
		)
	})
}

// IsMlockAvailable reports whether secure buffers can be allocated and
// the current limit in KB (-1 means unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes every memguard buffer. Called on shutdown.
func PurgeAllSecureMemory() {
	memguard.Purge()
}

type secureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	destroyed bool
}

func (a *secureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s is destroyed", a.id)
	}
	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > SecureBufferSize {
		return fmt.Errorf("accumulator %s overflow: %d bytes would exceed %d",
			a.id, a.offset+len(tokenBytes), SecureBufferSize)
	}
	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s is destroyed", a.id)
	}
	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.destroyed = true

	slog.Debug("Token accumulator finalized",
		"accumulator_id", a.id,
		"answer_len", len(answer),
		"lifetime", time.Since(a.createdAt).String(),
	)
	return answer, hashStr, nil
}

func (a *secureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
	slog.Debug("Token accumulator destroyed", "accumulator_id", a.id)
}

func (a *secureTokenAccumulator) ID() string { return a.id }

// insecureTokenAccumulator keeps tokens in ordinary Go memory. Data may
// be swapped to disk; only used when the operator opted in.
type insecureTokenAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	destroyed bool
}

func newInsecureTokenAccumulator() TokenAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE token accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)
	return &insecureTokenAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

func (a *insecureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s is destroyed", a.id)
	}
	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		return fmt.Errorf("accumulator %s overflow: %d bytes would exceed %d",
			a.id, len(a.data)+len(tokenBytes), SecureBufferSize)
	}
	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *insecureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s is destroyed", a.id)
	}
	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

// wipe zeroes the slice before releasing it. Best effort only: the GC
// may already have copied the backing array.
func (a *insecureTokenAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureTokenAccumulator) ID() string { return a.id }

var (
	_ TokenAccumulator = (*secureTokenAccumulator)(nil)
	_ TokenAccumulator = (*insecureTokenAccumulator)(nil)
)
