// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the studio settings file and keeps it current.
//
// Settings come from a YAML file (settings.yaml by default) holding the
// LLM profiles, agent defaults, and server knobs. The file is watched via
// fsnotify so profile edits reach the registry without a restart.
// References like ${OPENAI_API_KEY} or ${OLLAMA_URL:-http://localhost:11434}
// inside profile fields are expanded from the environment at load time.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianStudio/services/llm"
)

const (
	// DefaultSettingsPath is used when STUDIO_SETTINGS_PATH is unset.
	DefaultSettingsPath = "settings.yaml"

	// EnvSettingsPath overrides the settings file location.
	EnvSettingsPath = "STUDIO_SETTINGS_PATH"
)

// LLMProfile is one model entry in settings.yaml.
type LLMProfile struct {
	Name     string `mapstructure:"name"`
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Default  bool   `mapstructure:"default"`
}

// AppSettings names the deployment. Agent is the display name the info
// endpoint reports, not an agent type.
type AppSettings struct {
	Name  string `mapstructure:"name"`
	Agent string `mapstructure:"agent"`
}

// AgentSettings controls the agent runtime.
type AgentSettings struct {
	// Type is the default agent when a request leaves it blank:
	// "basic", "react", or "plan".
	Type string `mapstructure:"type"`
	// MaxSteps bounds the agent loop. Zero means the built-in limit.
	MaxSteps int `mapstructure:"max_steps"`
	// SystemPrompt overrides the built-in assistant prompt.
	SystemPrompt string `mapstructure:"system_prompt"`
}

// SessionSettings controls conversation storage.
type SessionSettings struct {
	// Backend is "memory" or "badger".
	Backend string `mapstructure:"backend"`
	// Path is the badger data directory when Backend is "badger".
	Path string `mapstructure:"path"`
	// TTLMinutes expires idle sessions. Zero disables expiry.
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// ServerSettings controls the HTTP listener.
type ServerSettings struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RateLimitRPS throttles per-client requests. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Settings is the full parsed settings file.
type Settings struct {
	App      AppSettings     `mapstructure:"app"`
	Profiles []LLMProfile    `mapstructure:"llm_list"`
	Agent    AgentSettings   `mapstructure:"agent"`
	Sessions SessionSettings `mapstructure:"sessions"`
	Server   ServerSettings  `mapstructure:"server"`
}

// envRefPattern matches ${VAR} and ${VAR:-default}.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references from the
// environment. An unset variable without a default expands to empty,
// which downstream validation reports as a missing credential.
func ExpandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envRefPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// LLMProfiles converts the settings entries into registry profiles,
// expanding environment references in base_url and api_key.
func (s Settings) LLMProfiles() []llm.Profile {
	profiles := make([]llm.Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("%s/%s", strings.ToLower(p.Provider), p.Model)
		}
		profiles = append(profiles, llm.Profile{
			Name:     name,
			Provider: strings.ToLower(p.Provider),
			Model:    p.Model,
			BaseURL:  ExpandEnv(p.BaseURL),
			APIKey:   ExpandEnv(p.APIKey),
			Default:  p.Default,
		})
	}
	return profiles
}

// TTL returns the configured session expiry as a duration.
func (s SessionSettings) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// Loader reads the settings file and notifies watchers on change.
type Loader struct {
	v        *viper.Viper
	mu       sync.RWMutex
	current  Settings
	watchers []func(Settings)

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// SettingsPath resolves the settings file location from the environment.
func SettingsPath() string {
	if path := os.Getenv(EnvSettingsPath); path != "" {
		return path
	}
	return DefaultSettingsPath
}

// Load parses the settings file at path and starts watching it.
func Load(path string) (*Loader, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("app.agent", "AleutianStudio")
	v.SetDefault("agent.type", "react")
	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if err := validate(&settings); err != nil {
		return nil, err
	}

	l := &Loader{v: v, current: settings}
	l.watch()
	slog.Info("Settings loaded", "path", path, "profiles", len(settings.Profiles))
	return l, nil
}

func validate(s *Settings) error {
	if len(s.Profiles) == 0 {
		return fmt.Errorf("settings define no llm_list entries")
	}
	defaults := 0
	for i, p := range s.Profiles {
		if p.Provider == "" {
			return fmt.Errorf("llm_list[%d]: provider is required", i)
		}
		if p.Model == "" {
			return fmt.Errorf("llm_list[%d]: model is required", i)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("settings mark %d profiles as default, want at most one", defaults)
	}
	return nil
}

// Current returns the latest parsed settings.
func (l *Loader) Current() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(callback func(Settings)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, callback)
}

func (l *Loader) watch() {
	// Editors often fire several fsnotify events per save; debounce so a
	// half-written file is not parsed.
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		l.debounceMu.Lock()
		if l.debounceTimer != nil {
			l.debounceTimer.Stop()
		}
		l.debounceTimer = time.AfterFunc(200*time.Millisecond, l.reload)
		l.debounceMu.Unlock()
	})
	l.v.WatchConfig()
}

func (l *Loader) reload() {
	if err := l.v.ReadInConfig(); err != nil {
		slog.Error("Settings reload failed, keeping previous settings", "error", err)
		return
	}
	var settings Settings
	if err := l.v.Unmarshal(&settings); err != nil {
		slog.Error("Settings reload failed to parse, keeping previous settings", "error", err)
		return
	}
	if err := validate(&settings); err != nil {
		slog.Error("Settings reload rejected, keeping previous settings", "error", err)
		return
	}

	l.mu.Lock()
	l.current = settings
	watchers := make([]func(Settings), len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	slog.Info("Settings reloaded", "profiles", len(settings.Profiles))
	for _, cb := range watchers {
		cb(settings)
	}
}
