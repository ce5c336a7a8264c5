// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig controls the idle-session sweeper.
type SweeperConfig struct {
	// TTL is how long a session may sit idle before removal.
	TTL time.Duration
	// Interval is how often the sweep runs. Defaults to a quarter of the
	// TTL, capped between one minute and one hour.
	Interval time.Duration
}

// Sweeper removes idle sessions in the background. It uses the ticker
// plus done channel pattern for graceful shutdown.
type Sweeper struct {
	store  Store
	config SweeperConfig

	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. TTL must be positive; callers with no
// expiry simply never start one.
func NewSweeper(store Store, config SweeperConfig) (*Sweeper, error) {
	if config.TTL <= 0 {
		return nil, fmt.Errorf("sweeper TTL must be positive, got %s", config.TTL)
	}
	if config.Interval <= 0 {
		config.Interval = config.TTL / 4
		if config.Interval < time.Minute {
			config.Interval = time.Minute
		}
		if config.Interval > time.Hour {
			config.Interval = time.Hour
		}
	}
	return &Sweeper{
		store:  store,
		config: config,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the sweep goroutine. Returns an error if already
// running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("Session sweeper starting",
		"ttl", s.config.TTL.String(),
		"interval", s.config.Interval.String(),
	)
	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep goroutine to exit. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	slog.Info("Session sweeper stopping")
	close(s.done)
	s.running = false
}

// RunNow performs one sweep immediately, outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.store.DeleteIdleSince(ctx, time.Now().Add(-s.config.TTL))
}

func (s *Sweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Session sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			deleted, err := s.RunNow(ctx)
			if err != nil {
				slog.Error("Session sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				slog.Info("Session sweep completed", "deleted", deleted)
			} else {
				slog.Debug("Session sweep completed (no idle sessions)")
			}
		}
	}
}
