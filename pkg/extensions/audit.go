// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// AuditEvent records one security-relevant action.
type AuditEvent struct {
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	UserID    string `json:"user_id"`
	Action    string `json:"action"`   // e.g. "chat.blocked", "session.deleted"
	Resource  string `json:"resource"` // session id, pattern id
	Outcome   string `json:"outcome"`  // "blocked", "allowed", "deleted"
	Detail    string `json:"detail,omitempty"`
}

// AuditLogger receives audit events. Implementations must be safe for
// concurrent use and must not block request handling for long.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger writes audit events to the application log at INFO.
type NopAuditLogger struct{}

// Log implements AuditLogger.
func (l *NopAuditLogger) Log(_ context.Context, event AuditEvent) error {
	slog.Info("audit",
		"action", event.Action,
		"user", event.UserID,
		"resource", event.Resource,
		"outcome", event.Outcome,
	)
	return nil
}

// Flush implements AuditLogger.
func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// FileAuditLogger appends audit events as JSON Lines. Suitable for
// mounting out of a container for offline review.
type FileAuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditLogger opens (or creates) the audit log at path.
func NewFileAuditLogger(path string) (*FileAuditLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &FileAuditLogger{file: f}, nil
}

// Log implements AuditLogger.
func (l *FileAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Flush implements AuditLogger.
func (l *FileAuditLogger) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Close flushes and closes the underlying file.
func (l *FileAuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*FileAuditLogger)(nil)
)
